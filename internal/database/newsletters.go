package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GetSharedContentByHash looks up shared content by its normalized content
// hash. Returns nil without error on a miss.
func (db *DB) GetSharedContentByHash(hash string) (*SharedContent, error) {
	var content SharedContent
	err := db.Where("content_hash = ?", hash).Order("created_at, id").First(&content).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up shared content: %w", err)
	}
	return &content, nil
}

// ResolveSharedContent inserts a shared content row and reconciles it
// against concurrent inserts of the same hash. Returns the canonical row
// and whether the caller's insert was the one kept; a losing caller must
// discard its storage write and count itself as a reader of the winner.
func (db *DB) ResolveSharedContent(content *SharedContent) (*SharedContent, bool, error) {
	if err := db.Create(content).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create shared content: %w", err)
	}

	kept, isCreator, err := resolveDuplicates(db.DB, content.ID, func() ([]SharedContent, error) {
		var rows []SharedContent
		err := db.Where("content_hash = ?", content.ContentHash).Find(&rows).Error
		return rows, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve shared content: %w", err)
	}
	return kept, isCreator, nil
}

// GetSharedContentByID retrieves shared content by ID, or nil
func (db *DB) GetSharedContentByID(contentID uint) (*SharedContent, error) {
	var content SharedContent
	err := db.First(&content, contentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shared content: %w", err)
	}
	return &content, nil
}

// IncrementReaderCount adds one reader to a shared content row
func (db *DB) IncrementReaderCount(contentID uint) error {
	if err := db.Model(&SharedContent{}).Where("id = ?", contentID).
		UpdateColumn("reader_count", gorm.Expr("reader_count + ?", 1)).Error; err != nil {
		return fmt.Errorf("failed to increment reader count: %w", err)
	}
	return nil
}

// CreateUserNewsletter persists the per-user record for a stored message
func (db *DB) CreateUserNewsletter(newsletter *UserNewsletter) error {
	if newsletter.IsPrivate {
		if newsletter.PrivateStorageKey == "" || newsletter.SharedContentID != nil {
			return fmt.Errorf("private newsletter must carry a private storage key only")
		}
	} else {
		if newsletter.SharedContentID == nil || newsletter.PrivateStorageKey != "" {
			return fmt.Errorf("public newsletter must reference shared content only")
		}
	}
	if err := db.Create(newsletter).Error; err != nil {
		return fmt.Errorf("failed to create newsletter record: %w", err)
	}
	return nil
}

// IncrementNewsletterCount counts one successfully stored newsletter for a
// sender. This runs once per stored message, regardless of whether the
// sender or relationship already existed.
func (db *DB) IncrementNewsletterCount(senderID uint) error {
	if err := db.Model(&Sender{}).Where("id = ?", senderID).
		UpdateColumn("newsletter_count", gorm.Expr("newsletter_count + ?", 1)).Error; err != nil {
		return fmt.Errorf("failed to increment newsletter count: %w", err)
	}
	return nil
}

// ListUserNewsletters returns a user's newsletters, newest first,
// optionally filtered by sender
func (db *DB) ListUserNewsletters(userID uint, senderID *uint) ([]UserNewsletter, error) {
	query := db.Where("user_id = ?", userID)
	if senderID != nil {
		query = query.Where("sender_id = ?", *senderID)
	}
	var newsletters []UserNewsletter
	if err := query.Order("received_at DESC").Find(&newsletters).Error; err != nil {
		return nil, fmt.Errorf("failed to list newsletters: %w", err)
	}
	return newsletters, nil
}

// GetUserNewsletter retrieves one of a user's newsletters by ID
func (db *DB) GetUserNewsletter(userID, newsletterID uint) (*UserNewsletter, error) {
	var newsletter UserNewsletter
	err := db.Where("id = ? AND user_id = ?", newsletterID, userID).First(&newsletter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get newsletter: %w", err)
	}
	return &newsletter, nil
}

// DeleteUserNewsletter removes a user's newsletter record. Shared storage
// is never touched; only the winner row's reader count is adjusted.
func (db *DB) DeleteUserNewsletter(userID, newsletterID uint) error {
	newsletter, err := db.GetUserNewsletter(userID, newsletterID)
	if err != nil {
		return err
	}
	if newsletter == nil {
		return ErrNotFound
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&UserNewsletter{}, newsletter.ID).Error; err != nil {
			return fmt.Errorf("failed to delete newsletter record: %w", err)
		}
		if newsletter.SharedContentID != nil {
			if err := tx.Model(&SharedContent{}).Where("id = ?", *newsletter.SharedContentID).
				UpdateColumn("reader_count", gorm.Expr("reader_count - ?", 1)).Error; err != nil {
				return fmt.Errorf("failed to decrement reader count: %w", err)
			}
		}
		return nil
	})
}

// RecordCommunityPublish persists the attachment of a community publish to
// shared content. It runs before the reader counter moves, so a crash
// between the two leaves a deficit the reconciliation sweep repairs, never
// an excess.
func (db *DB) RecordCommunityPublish(newsletterID, contentID uint) error {
	entry := &CommunityPublish{
		NewsletterID:    newsletterID,
		SharedContentID: contentID,
	}
	if err := db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record community publish: %w", err)
	}
	return nil
}

// LogIngest records one ingestion attempt for the admin log view
func (db *DB) LogIngest(userID uint, senderEmail, subject, source, status, errorMsg string) error {
	entry := &IngestLog{
		UserID:       userID,
		SenderEmail:  senderEmail,
		Subject:      subject,
		Source:       source,
		Status:       status,
		ErrorMessage: errorMsg,
	}
	if err := db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create ingest log: %w", err)
	}
	return nil
}

// ListIngestLogs returns ingestion attempts, newest first
func (db *DB) ListIngestLogs() ([]IngestLog, error) {
	var logs []IngestLog
	if err := db.Order("processed_at DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list ingest logs: %w", err)
	}
	return logs, nil
}

// CounterDrift reports one counter that disagrees with its backing rows
type CounterDrift struct {
	Table    string `json:"table"`
	RecordID uint   `json:"record_id"`
	Counter  string `json:"counter"`
	Stored   int64  `json:"stored"`
	Actual   int64  `json:"actual"`
}

// ReconcileCounters compares every stored counter against a count of its
// backing rows. Counters are only ever incremented after their row commit,
// so a crash between the two leaves a deficit this sweep detects; with
// repair set, the stored counter is reset to the row count.
func (db *DB) ReconcileCounters(repair bool) ([]CounterDrift, error) {
	var drifts []CounterDrift

	var senders []Sender
	if err := db.Find(&senders).Error; err != nil {
		return nil, fmt.Errorf("failed to list senders: %w", err)
	}
	for _, sender := range senders {
		var subscribers int64
		if err := db.Model(&Relationship{}).Where("sender_id = ?", sender.ID).
			Distinct("user_id").Count(&subscribers).Error; err != nil {
			return nil, fmt.Errorf("failed to count subscribers: %w", err)
		}
		if subscribers != sender.SubscriberCount {
			drifts = append(drifts, CounterDrift{
				Table: "senders", RecordID: sender.ID, Counter: "subscriber_count",
				Stored: sender.SubscriberCount, Actual: subscribers,
			})
			if repair {
				if err := db.Model(&Sender{}).Where("id = ?", sender.ID).
					UpdateColumn("subscriber_count", subscribers).Error; err != nil {
					return nil, fmt.Errorf("failed to repair subscriber count: %w", err)
				}
			}
		}

		var newsletters int64
		if err := db.Model(&UserNewsletter{}).Where("sender_id = ?", sender.ID).
			Count(&newsletters).Error; err != nil {
			return nil, fmt.Errorf("failed to count newsletters: %w", err)
		}
		if newsletters != sender.NewsletterCount {
			drifts = append(drifts, CounterDrift{
				Table: "senders", RecordID: sender.ID, Counter: "newsletter_count",
				Stored: sender.NewsletterCount, Actual: newsletters,
			})
			if repair {
				if err := db.Model(&Sender{}).Where("id = ?", sender.ID).
					UpdateColumn("newsletter_count", newsletters).Error; err != nil {
					return nil, fmt.Errorf("failed to repair newsletter count: %w", err)
				}
			}
		}
	}

	var contents []SharedContent
	if err := db.Find(&contents).Error; err != nil {
		return nil, fmt.Errorf("failed to list shared content: %w", err)
	}
	for _, content := range contents {
		// A reader is either a newsletter record referencing the content or
		// a community publish attached to it; publishes leave the original
		// record private, so counting newsletter rows alone undercounts.
		var readers int64
		if err := db.Model(&UserNewsletter{}).Where("shared_content_id = ?", content.ID).
			Count(&readers).Error; err != nil {
			return nil, fmt.Errorf("failed to count readers: %w", err)
		}
		var publishes int64
		if err := db.Model(&CommunityPublish{}).Where("shared_content_id = ?", content.ID).
			Count(&publishes).Error; err != nil {
			return nil, fmt.Errorf("failed to count community publishes: %w", err)
		}
		readers += publishes
		if readers != content.ReaderCount {
			drifts = append(drifts, CounterDrift{
				Table: "shared_contents", RecordID: content.ID, Counter: "reader_count",
				Stored: content.ReaderCount, Actual: readers,
			})
			if repair {
				if err := db.Model(&SharedContent{}).Where("id = ?", content.ID).
					UpdateColumn("reader_count", readers).Error; err != nil {
					return nil, fmt.Errorf("failed to repair reader count: %w", err)
				}
			}
		}
	}

	return drifts, nil
}
