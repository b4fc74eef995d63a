package ingest

import (
	"fmt"
	"log"

	"github.com/stackletter/stackletter/internal/database"
	"github.com/stackletter/stackletter/internal/storage"
)

// SharedContentRef identifies the shared content a publish resolved to
type SharedContentRef struct {
	ID          uint   `json:"id"`
	ContentHash string `json:"content_hash"`
	StorageKey  string `json:"storage_key"`
}

// PublishCommunity republishes a private newsletter into the community
// catalog. The private body is fetched, hashed with the same normalization
// as regular ingestion, and either attached to existing shared content
// (counting a reader) or written once under the community storage
// namespace. The original private object and record are never mutated;
// every publish leaves an attachment record backing its reader count.
func (in *Ingestor) PublishCommunity(newsletterID uint) (*SharedContentRef, error) {
	newsletter, err := in.db.GetNewsletterByID(newsletterID)
	if err != nil {
		return nil, err
	}
	if !newsletter.IsPrivate {
		return nil, fmt.Errorf("newsletter %d is already public", newsletterID)
	}

	body, err := in.blobs.Read(newsletter.PrivateStorageKey)
	if err != nil {
		return nil, err
	}

	sender, err := in.db.GetSenderByID(newsletter.SenderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, fmt.Errorf("sender %d for newsletter %d is missing", newsletter.SenderID, newsletterID)
	}

	hash := ContentHash(string(body))
	content, err := in.db.GetSharedContentByHash(hash)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := in.db.RecordCommunityPublish(newsletter.ID, content.ID); err != nil {
			return nil, err
		}
		if err := in.db.IncrementReaderCount(content.ID); err != nil {
			return nil, err
		}
		log.Printf("Community publish of newsletter %d attached to existing content %d", newsletterID, content.ID)
		return &SharedContentRef{ID: content.ID, ContentHash: content.ContentHash, StorageKey: content.StorageKey}, nil
	}

	return in.createCommunityContent(newsletter, sender, hash, body)
}

// createCommunityContent writes the community object and resolves the
// shared row for a hash that had no content at lookup time. Losing the
// resolution race to a concurrent import means the winner's object lives
// under another key, so the speculative community blob is rolled back
// before the publish counts itself as a reader of the winner.
func (in *Ingestor) createCommunityContent(newsletter *database.UserNewsletter, sender *database.Sender, hash string, body []byte) (*SharedContentRef, error) {
	key := storage.CommunityKey(hash)
	if err := in.blobs.Write(key, body); err != nil {
		return nil, err
	}

	kept, isCreator, err := in.db.ResolveSharedContent(&database.SharedContent{
		ContentHash: hash,
		StorageKey:  key,
		ReaderCount: 1,
		Subject:     newsletter.Subject,
		SenderEmail: sender.Email,
		SenderName:  sender.Name,
		FirstSeenAt: newsletter.ReceivedAt,
	})
	if err != nil {
		return nil, err
	}

	if err := in.db.RecordCommunityPublish(newsletter.ID, kept.ID); err != nil {
		return nil, err
	}

	if !isCreator {
		if kept.StorageKey != key {
			if err := in.blobs.Delete(key); err != nil {
				log.Printf("Failed to delete orphaned community object %s: %v", key, err)
			}
		}
		if err := in.db.IncrementReaderCount(kept.ID); err != nil {
			return nil, err
		}
	}

	log.Printf("Community publish of newsletter %d resolved to content %d under %s", newsletter.ID, kept.ID, kept.StorageKey)
	return &SharedContentRef{ID: kept.ID, ContentHash: kept.ContentHash, StorageKey: kept.StorageKey}, nil
}
