package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedSender(t *testing.T, db *DB, email string, createdAt time.Time) *Sender {
	t.Helper()
	s := &Sender{Email: email, Domain: emailDomain(email), CreatedAt: createdAt}
	require.NoError(t, db.Create(s).Error)
	return s
}

func TestResolveDuplicatesKeepsEarliest(t *testing.T) {
	db := newTestDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	oldest := seedSender(t, db, "dup@example.com", base)
	seedSender(t, db, "dup@example.com", base.Add(time.Second))
	newest := seedSender(t, db, "dup@example.com", base.Add(2*time.Second))

	kept, isCreator, err := resolveDuplicates(db.DB, newest.ID, func() ([]Sender, error) {
		var rows []Sender
		err := db.Where("email = ?", "dup@example.com").Find(&rows).Error
		return rows, err
	})
	require.NoError(t, err)
	require.False(t, isCreator)
	require.Equal(t, oldest.ID, kept.ID)

	var remaining []Sender
	require.NoError(t, db.Where("email = ?", "dup@example.com").Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, oldest.ID, remaining[0].ID)
}

func TestResolveDuplicatesTieBreaksOnID(t *testing.T) {
	db := newTestDB(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := seedSender(t, db, "tie@example.com", at)
	second := seedSender(t, db, "tie@example.com", at)

	kept, isCreator, err := resolveDuplicates(db.DB, first.ID, func() ([]Sender, error) {
		var rows []Sender
		err := db.Where("email = ?", "tie@example.com").Find(&rows).Error
		return rows, err
	})
	require.NoError(t, err)
	require.True(t, isCreator)
	require.Equal(t, first.ID, kept.ID)
	require.Less(t, first.ID, second.ID)
}

func TestResolveDuplicatesIsReentrant(t *testing.T) {
	db := newTestDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	winner := seedSender(t, db, "re@example.com", base)
	loser := seedSender(t, db, "re@example.com", base.Add(time.Second))

	fetch := func() ([]Sender, error) {
		var rows []Sender
		err := db.Where("email = ?", "re@example.com").Find(&rows).Error
		return rows, err
	}

	// Run resolution twice, as two racers both entering the protocol would.
	kept1, _, err := resolveDuplicates(db.DB, loser.ID, fetch)
	require.NoError(t, err)
	kept2, isCreator, err := resolveDuplicates(db.DB, winner.ID, fetch)
	require.NoError(t, err)
	require.Equal(t, kept1.ID, kept2.ID)
	require.Equal(t, winner.ID, kept2.ID)
	require.True(t, isCreator)
}

func TestResolveDuplicatesAllRowsGone(t *testing.T) {
	db := newTestDB(t)

	_, _, err := resolveDuplicates(db.DB, 42, func() ([]Sender, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, ErrNotFound)
}
