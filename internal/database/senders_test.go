package database

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "digest@example.com", NormalizeEmail("  Digest@Example.COM  "))
	require.Equal(t, "", NormalizeEmail("   "))
}

func TestResolveSenderCreatesOnce(t *testing.T) {
	db := newTestDB(t)

	first, err := db.ResolveSender("Digest@Example.com", "The Digest")
	require.NoError(t, err)
	require.Equal(t, "digest@example.com", first.Email)
	require.Equal(t, "example.com", first.Domain)
	require.Equal(t, "The Digest", first.Name)
	require.EqualValues(t, 0, first.SubscriberCount)

	second, err := db.ResolveSender("digest@example.com", "")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&Sender{}).Where("email = ?", "digest@example.com").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestResolveSenderEmptyEmail(t *testing.T) {
	db := newTestDB(t)
	_, err := db.ResolveSender("  ", "name")
	require.Error(t, err)
}

func TestResolveSenderNameBackfill(t *testing.T) {
	db := newTestDB(t)

	anon, err := db.ResolveSender("news@example.com", "")
	require.NoError(t, err)
	require.Equal(t, "", anon.Name)

	// A later message carrying a display name fills the blank.
	named, err := db.ResolveSender("news@example.com", "Example News")
	require.NoError(t, err)
	require.Equal(t, anon.ID, named.ID)
	require.Equal(t, "Example News", named.Name)

	// An existing name is never overwritten.
	again, err := db.ResolveSender("news@example.com", "Some Other Name")
	require.NoError(t, err)
	require.Equal(t, "Example News", again.Name)
}

func TestResolveSenderConcurrent(t *testing.T) {
	db := newTestDB(t)

	const workers = 8
	results := make([]*Sender, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the callers carry a display name, half do not.
			name := ""
			if i%2 == 0 {
				name = "Racing Weekly"
			}
			results[i], errs[i] = db.ResolveSender("race@example.com", name)
		}(i)
	}
	wg.Wait()

	canonicalID := uint(0)
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if canonicalID == 0 {
			canonicalID = results[i].ID
		}
		require.Equal(t, canonicalID, results[i].ID)
	}

	var rows []Sender
	require.NoError(t, db.Where("email = ?", "race@example.com").Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, "Racing Weekly", rows[0].Name)
}

func TestListSendersOrdering(t *testing.T) {
	db := newTestDB(t)

	for i, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		sender, err := db.ResolveSender(email, "")
		require.NoError(t, err)
		require.NoError(t, db.Model(&Sender{}).Where("id = ?", sender.ID).
			UpdateColumn("subscriber_count", i).Error)
	}

	senders, err := db.ListSenders()
	require.NoError(t, err)
	require.Len(t, senders, 3)
	require.Equal(t, "c@x.com", senders[0].Email)
	require.Equal(t, "a@x.com", senders[2].Email)
}
