package ingest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stackletter/stackletter/internal/database"
	"github.com/stackletter/stackletter/internal/storage"
)

type testEnv struct {
	db       *database.DB
	blobs    *storage.Store
	ingestor *Ingestor
	root     string
}

func newTestEnv(t *testing.T, config Config) *testEnv {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := database.New(&database.Config{Driver: "sqlite", DSN: dsn, Domain: "test.local"})
	require.NoError(t, err)

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&database.User{}, &database.Sender{}, &database.Relationship{}, &database.Folder{},
		&database.SharedContent{}, &database.UserNewsletter{}, &database.CommunityPublish{},
		&database.IngestLog{},
	))
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	blobs, err := storage.New(root)
	require.NoError(t, err)

	return &testEnv{
		db:       db,
		blobs:    blobs,
		ingestor: New(db, blobs, config),
		root:     root,
	}
}

func (env *testEnv) user(t *testing.T, email string) *database.User {
	t.Helper()
	user, err := env.db.CreateUser(email, "pw", "user")
	require.NoError(t, err)
	return user
}

func candidate(subject, body string) CandidateNewsletter {
	return CandidateNewsletter{
		SenderEmail: "digest@example.com",
		SenderName:  "The Digest",
		Subject:     subject,
		ReceivedAt:  time.Now(),
		HTMLBody:    body,
	}
}

func TestContentHashNormalization(t *testing.T) {
	a := ContentHash("<p>Hello   world</p>")
	b := ContentHash("  <p>Hello\nworld</p>\t")
	c := ContentHash("<p>Hello worlds</p>")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestIngestDeduplicatesIdenticalContent(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: false})
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	body := "<html><body><h1>Issue #1</h1> <p>Hello readers</p></body></html>"
	reflowed := "  <html><body><h1>Issue\n#1</h1>\t<p>Hello\n  readers</p></body></html>\n"

	first, err := env.ingestor.Ingest(alice.ID, candidate("Issue #1", body), "smtp")
	require.NoError(t, err)
	// Bob's copy differs only in whitespace; it still deduplicates.
	second, err := env.ingestor.Ingest(bob.ID, candidate("Issue #1", reflowed), "smtp")
	require.NoError(t, err)

	require.NotNil(t, first.SharedContentID)
	require.NotNil(t, second.SharedContentID)
	require.Equal(t, *first.SharedContentID, *second.SharedContentID)

	content, err := env.db.GetSharedContentByID(*first.SharedContentID)
	require.NoError(t, err)
	require.EqualValues(t, 2, content.ReaderCount)

	// One shared row, one stored object.
	var contentRows int64
	require.NoError(t, env.db.Model(&database.SharedContent{}).Count(&contentRows).Error)
	require.EqualValues(t, 1, contentRows)

	ok, err := env.blobs.Exists(content.StorageKey)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIngestPrivateSkipsDeduplication(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: false})
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	body := "<html><body>secret issue</body></html>"

	// Alice receives the content publicly first.
	public, err := env.ingestor.Ingest(alice.ID, candidate("Issue", body), "smtp")
	require.NoError(t, err)
	require.False(t, public.IsPrivate)

	// Bob flags the sender private before his copy arrives.
	sender, err := env.db.ResolveSender("digest@example.com", "")
	require.NoError(t, err)
	_, err = env.db.ResolveRelationship(bob.ID, sender.ID, true)
	require.NoError(t, err)

	private, err := env.ingestor.Ingest(bob.ID, candidate("Issue", body), "smtp")
	require.NoError(t, err)
	require.True(t, private.IsPrivate)
	require.Nil(t, private.SharedContentID)
	require.True(t, strings.HasPrefix(private.PrivateStorageKey, "users/"))

	// The private copy never touched the shared row.
	content, err := env.db.GetSharedContentByID(*public.SharedContentID)
	require.NoError(t, err)
	require.EqualValues(t, 1, content.ReaderCount)

	ok, err := env.blobs.Exists(private.PrivateStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIngestCounterIndependence(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: false})
	alice := env.user(t, "alice@example.com")

	_, err := env.ingestor.Ingest(alice.ID, candidate("Issue #1", "<p>one</p>"), "smtp")
	require.NoError(t, err)
	_, err = env.ingestor.Ingest(alice.ID, candidate("Issue #2", "<p>two</p>"), "smtp")
	require.NoError(t, err)

	sender, err := env.db.ResolveSender("digest@example.com", "")
	require.NoError(t, err)
	require.EqualValues(t, 1, sender.SubscriberCount)
	require.EqualValues(t, 2, sender.NewsletterCount)
}

func TestIngestTwoUsersOneSender(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: false})
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	_, err := env.ingestor.Ingest(alice.ID, candidate("Issue #1", "<p>for alice</p>"), "smtp")
	require.NoError(t, err)
	_, err = env.ingestor.Ingest(bob.ID, candidate("Issue #2", "<p>for bob</p>"), "smtp")
	require.NoError(t, err)

	// One canonical sender with exact counters.
	senders, err := env.db.ListSenders()
	require.NoError(t, err)
	require.Len(t, senders, 1)
	require.EqualValues(t, 2, senders[0].SubscriberCount)
	require.EqualValues(t, 2, senders[0].NewsletterCount)

	// Each user got their own folder named after the sender.
	for _, userID := range []uint{alice.ID, bob.ID} {
		folders, err := env.db.ListFolders(userID)
		require.NoError(t, err)
		require.Len(t, folders, 1)
		require.Equal(t, "The Digest", folders[0].Name)

		newsletters, err := env.db.ListUserNewsletters(userID, nil)
		require.NoError(t, err)
		require.Len(t, newsletters, 1)
	}

	// Different bodies, so nothing was deduplicated.
	var contentRows int64
	require.NoError(t, env.db.Model(&database.SharedContent{}).Count(&contentRows).Error)
	require.EqualValues(t, 2, contentRows)

	// Nothing drifted.
	drifts, err := env.db.ReconcileCounters(false)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestIngestPrivateByDefaultPolicy(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: true})
	alice := env.user(t, "alice@example.com")

	newsletter, err := env.ingestor.Ingest(alice.ID, candidate("Issue", "<p>body</p>"), "smtp")
	require.NoError(t, err)
	require.True(t, newsletter.IsPrivate)
	require.NotEmpty(t, newsletter.PrivateStorageKey)
}

func TestIngestEmptyBody(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.user(t, "alice@example.com")

	_, err := env.ingestor.Ingest(alice.ID, candidate("Empty", ""), "import")
	require.Error(t, err)

	logs, err := env.db.ListIngestLogs()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "error", logs[0].Status)
	require.Equal(t, "import", logs[0].Source)
}

func TestIngestTextBodyFallback(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.user(t, "alice@example.com")

	newsletter, err := env.ingestor.Ingest(alice.ID, CandidateNewsletter{
		SenderEmail: "plain@example.com",
		Subject:     "Plain",
		ReceivedAt:  time.Now(),
		TextBody:    "just text",
	}, "smtp")
	require.NoError(t, err)
	require.NotNil(t, newsletter.SharedContentID)
}

func TestIngestStorageFailureLeavesNoRecord(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: false})
	alice := env.user(t, "alice@example.com")

	// A plain file where the shared namespace directory belongs makes
	// every shared write fail.
	require.NoError(t, env.blobs.Write("shared", []byte("blocker")))

	_, err := env.ingestor.Ingest(alice.ID, candidate("Issue", "<p>body</p>"), "smtp")
	require.ErrorIs(t, err, storage.ErrStorageWrite)

	var newsletterRows, contentRows int64
	require.NoError(t, env.db.Model(&database.UserNewsletter{}).Count(&newsletterRows).Error)
	require.NoError(t, env.db.Model(&database.SharedContent{}).Count(&contentRows).Error)
	require.EqualValues(t, 0, newsletterRows)
	require.EqualValues(t, 0, contentRows)

	logs, err := env.db.ListIngestLogs()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "error", logs[0].Status)
}
