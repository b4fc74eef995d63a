package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackletter/stackletter/internal/storage"
)

func TestPublishCommunity(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: true})
	alice := env.user(t, "alice@example.com")

	private, err := env.ingestor.Ingest(alice.ID, candidate("Issue #1", "<p>worth sharing</p>"), "smtp")
	require.NoError(t, err)
	require.True(t, private.IsPrivate)

	ref, err := env.ingestor.PublishCommunity(private.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref.StorageKey, "community/"))

	ok, err := env.blobs.Exists(ref.StorageKey)
	require.NoError(t, err)
	require.True(t, ok)

	// The original private record and object stay untouched.
	got, err := env.db.GetUserNewsletter(alice.ID, private.ID)
	require.NoError(t, err)
	require.True(t, got.IsPrivate)
	require.Nil(t, got.SharedContentID)
	ok, err = env.blobs.Exists(private.PrivateStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPublishCommunityAttachesToExisting(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: true})
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	body := "<p>the same issue</p>"
	first, err := env.ingestor.Ingest(alice.ID, candidate("Issue", body), "smtp")
	require.NoError(t, err)
	second, err := env.ingestor.Ingest(bob.ID, candidate("Issue", "  "+body+"\n"), "smtp")
	require.NoError(t, err)

	ref1, err := env.ingestor.PublishCommunity(first.ID)
	require.NoError(t, err)
	// The second publish resolves to the same content instead of writing again.
	ref2, err := env.ingestor.PublishCommunity(second.ID)
	require.NoError(t, err)
	require.Equal(t, ref1.ID, ref2.ID)

	content, err := env.db.GetSharedContentByID(ref1.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, content.ReaderCount)

	// Both publishes left attachment records, so the counter is backed.
	drifts, err := env.db.ReconcileCounters(false)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestPublishThenReconcileNoDrift(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: true})
	alice := env.user(t, "alice@example.com")

	private, err := env.ingestor.Ingest(alice.ID, candidate("Issue #1", "<p>worth sharing</p>"), "smtp")
	require.NoError(t, err)
	ref, err := env.ingestor.PublishCommunity(private.ID)
	require.NoError(t, err)

	// A healthy publish is not drift.
	drifts, err := env.db.ReconcileCounters(false)
	require.NoError(t, err)
	require.Empty(t, drifts)

	// Repair must not touch it either; the count never drops below one.
	_, err = env.db.ReconcileCounters(true)
	require.NoError(t, err)
	content, err := env.db.GetSharedContentByID(ref.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, content.ReaderCount)
}

func TestPublishRaceLoserDiscardsCommunityObject(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: true})
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	body := "<p>the same issue</p>"
	private, err := env.ingestor.Ingest(alice.ID, candidate("Issue", body), "smtp")
	require.NoError(t, err)

	// Bob's public import of identical content lands the shared row after
	// the publish's lookup missed, as a concurrent import would.
	sender, err := env.db.ResolveSender("digest@example.com", "")
	require.NoError(t, err)
	_, err = env.db.ResolveRelationship(bob.ID, sender.ID, false)
	require.NoError(t, err)
	_, err = env.ingestor.Ingest(bob.ID, candidate("Issue", body), "smtp")
	require.NoError(t, err)

	newsletter, err := env.db.GetNewsletterByID(private.ID)
	require.NoError(t, err)
	hash := ContentHash(body)
	ref, err := env.ingestor.createCommunityContent(newsletter, sender, hash, []byte(body))
	require.NoError(t, err)

	// The winner's shared object is the canonical one; the speculative
	// community object was rolled back.
	require.True(t, strings.HasPrefix(ref.StorageKey, "shared/"))
	ok, err := env.blobs.Exists(storage.CommunityKey(hash))
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = env.blobs.Exists(ref.StorageKey)
	require.NoError(t, err)
	require.True(t, ok)

	content, err := env.db.GetSharedContentByID(ref.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, content.ReaderCount)

	drifts, err := env.db.ReconcileCounters(false)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestPublishCommunityRejectsPublic(t *testing.T) {
	env := newTestEnv(t, Config{PrivateByDefault: false})
	alice := env.user(t, "alice@example.com")

	public, err := env.ingestor.Ingest(alice.ID, candidate("Issue", "<p>body</p>"), "smtp")
	require.NoError(t, err)

	_, err = env.ingestor.PublishCommunity(public.ID)
	require.Error(t, err)
}
