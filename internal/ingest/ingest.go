// Package ingest coordinates newsletter ingestion: every entry path
// (inbound SMTP, manual drop, community import) hands a candidate here and
// the orchestrator sequences sender resolution, relationship and folder
// provisioning, content storage and counter updates.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stackletter/stackletter/internal/database"
	"github.com/stackletter/stackletter/internal/storage"
)

// CandidateNewsletter is a sanitized inbound message, normalized by the
// entry path that produced it
type CandidateNewsletter struct {
	SenderEmail string
	SenderName  string
	Subject     string
	ReceivedAt  time.Time
	HTMLBody    string
	TextBody    string
}

// Config holds policy configuration for the orchestrator
type Config struct {
	// PrivateByDefault controls the privacy flag of newly created
	// relationships. It is policy, not a constant: entry paths must not
	// assume either default.
	PrivateByDefault bool
}

// Ingestor orchestrates the ingestion pipeline
type Ingestor struct {
	db     *database.DB
	blobs  *storage.Store
	config Config
}

// New creates a new ingestion orchestrator
func New(db *database.DB, blobs *storage.Store, config Config) *Ingestor {
	return &Ingestor{
		db:     db,
		blobs:  blobs,
		config: config,
	}
}

// body picks the candidate's display body, preferring HTML
func (c CandidateNewsletter) body() string {
	if c.HTMLBody != "" {
		return c.HTMLBody
	}
	return c.TextBody
}

// NormalizeContent collapses all whitespace runs to single spaces so that
// trivial formatting differences between deliveries of the same newsletter
// do not defeat deduplication.
func NormalizeContent(body string) string {
	return strings.Join(strings.Fields(body), " ")
}

// ContentHash computes the normalized content hash used as the
// deduplication key for shared storage.
func ContentHash(body string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(body)))
	return hex.EncodeToString(sum[:])
}

// Ingest runs the full pipeline for one candidate. The call order is a
// contract: sender before relationship (the ledger needs the sender row),
// relationship before content (the privacy flag decides the storage path),
// and the newsletter counter only after the record commits.
func (in *Ingestor) Ingest(ownerUserID uint, candidate CandidateNewsletter, source string) (*database.UserNewsletter, error) {
	log.Printf("Ingesting newsletter from %s for user %d with subject: %q",
		candidate.SenderEmail, ownerUserID, candidate.Subject)

	newsletter, err := in.ingest(ownerUserID, candidate)
	if err != nil {
		if logErr := in.db.LogIngest(ownerUserID, candidate.SenderEmail, candidate.Subject,
			source, "error", err.Error()); logErr != nil {
			log.Printf("Failed to log ingestion error: %v", logErr)
		}
		return nil, err
	}

	if err := in.db.LogIngest(ownerUserID, candidate.SenderEmail, candidate.Subject,
		source, "success", ""); err != nil {
		log.Printf("Failed to log successful ingestion: %v", err)
	}

	return newsletter, nil
}

func (in *Ingestor) ingest(ownerUserID uint, candidate CandidateNewsletter) (*database.UserNewsletter, error) {
	if candidate.body() == "" {
		return nil, fmt.Errorf("newsletter has no body")
	}

	sender, err := in.db.ResolveSender(candidate.SenderEmail, candidate.SenderName)
	if err != nil {
		return nil, err
	}

	rel, err := in.db.ResolveRelationship(ownerUserID, sender.ID, in.config.PrivateByDefault)
	if err != nil {
		return nil, err
	}

	if _, err := in.db.ResolveFolder(ownerUserID, sender.ID, in.config.PrivateByDefault); err != nil {
		return nil, err
	}

	newsletter, err := in.storeNewsletter(ownerUserID, candidate, sender, rel)
	if err != nil {
		return nil, err
	}

	// Unconditional per stored message; independent of the subscriber
	// counter, which only moves on relationship creation.
	if err := in.db.IncrementNewsletterCount(sender.ID); err != nil {
		return nil, err
	}

	return newsletter, nil
}

// storeNewsletter persists the body and creates the per-user record. A
// private relationship routes the body to per-user storage and skips
// deduplication entirely; a public one deduplicates by normalized content
// hash against shared, content-addressed storage.
func (in *Ingestor) storeNewsletter(ownerUserID uint, candidate CandidateNewsletter, sender *database.Sender, rel *database.Relationship) (*database.UserNewsletter, error) {
	body := []byte(candidate.body())

	newsletter := &database.UserNewsletter{
		UserID:     ownerUserID,
		SenderID:   sender.ID,
		Subject:    candidate.Subject,
		ReceivedAt: candidate.ReceivedAt,
		IsPrivate:  rel.IsPrivate,
	}

	if rel.IsPrivate {
		key := storage.NewPrivateKey(ownerUserID)
		if err := in.blobs.Write(key, body); err != nil {
			return nil, err
		}
		newsletter.PrivateStorageKey = key
		if err := in.db.CreateUserNewsletter(newsletter); err != nil {
			return nil, err
		}
		return newsletter, nil
	}

	hash := ContentHash(candidate.body())
	content, err := in.db.GetSharedContentByHash(hash)
	if err != nil {
		return nil, err
	}

	if content != nil {
		newsletter.SharedContentID = &content.ID
		if err := in.db.CreateUserNewsletter(newsletter); err != nil {
			return nil, err
		}
		if err := in.db.IncrementReaderCount(content.ID); err != nil {
			return nil, err
		}
		return newsletter, nil
	}

	// Miss: write the object before any row exists, so a storage failure
	// aborts the call without leaving a record with a dangling reference.
	key := storage.SharedKey(hash)
	if err := in.blobs.Write(key, body); err != nil {
		return nil, err
	}

	kept, isCreator, err := in.db.ResolveSharedContent(&database.SharedContent{
		ContentHash: hash,
		StorageKey:  key,
		ReaderCount: 1,
		Subject:     candidate.Subject,
		SenderEmail: sender.Email,
		SenderName:  sender.Name,
		FirstSeenAt: candidate.ReceivedAt,
	})
	if err != nil {
		return nil, err
	}

	newsletter.SharedContentID = &kept.ID
	if err := in.db.CreateUserNewsletter(newsletter); err != nil {
		return nil, err
	}

	if !isCreator {
		// Lost the race to a concurrent import of identical content. The
		// storage key is hash-derived, so our write landed on the winner's
		// object; all that remains is to count ourselves as a reader.
		if err := in.db.IncrementReaderCount(kept.ID); err != nil {
			return nil, err
		}
	}

	return newsletter, nil
}
