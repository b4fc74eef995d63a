package email

import (
	"fmt"
	"log"
	"time"

	"github.com/stackletter/stackletter/internal/database"
	"github.com/stackletter/stackletter/internal/ingest"
)

// Processor routes inbound messages to the ingestion orchestrator
type Processor struct {
	db       *database.DB
	ingestor *ingest.Ingestor
	notifier *Notifier
	config   ProcessorConfig
}

// ProcessorConfig holds configuration for the inbound processor
type ProcessorConfig struct {
	MaxSize int64
}

// New creates a new inbound message processor. The notifier may be nil if
// failure notifications are not configured.
func New(db *database.DB, ingestor *ingest.Ingestor, notifier *Notifier, config ProcessorConfig) *Processor {
	return &Processor{
		db:       db,
		ingestor: ingestor,
		notifier: notifier,
		config:   config,
	}
}

// InboundMessage is one received message, addressed to a single recipient
type InboundMessage struct {
	From     string
	FromName string
	To       string
	Subject  string
	Date     time.Time

	HTMLBody string
	TextBody string

	// Connection info
	RemoteAddr string
	ReceivedAt time.Time

	// All headers in raw form
	Headers map[string][]string
}

func (m InboundMessage) size() int64 {
	return int64(len(m.HTMLBody) + len(m.TextBody))
}

// Process handles one inbound message. The size check runs synchronously
// so oversized messages are rejected at the SMTP layer; everything else
// happens asynchronously.
func (p *Processor) Process(msg InboundMessage) error {
	log.Printf("Processing message from %s to %s with subject: %q", msg.From, msg.To, msg.Subject)

	if msg.size() > p.config.MaxSize {
		log.Printf("Message size %d bytes exceeds maximum allowed size of %d bytes", msg.size(), p.config.MaxSize)
		if err := p.db.LogIngest(0, msg.From, msg.Subject, "smtp", "dropped",
			fmt.Sprintf("message size %d bytes exceeds maximum allowed size of %d bytes", msg.size(), p.config.MaxSize)); err != nil {
			log.Printf("Failed to log dropped message: %v", err)
		}
		return fmt.Errorf("message size exceeds maximum allowed size")
	}

	go func() {
		if err := p.processAsync(msg); err != nil {
			log.Printf("Async processing failed: %v", err)
		}
	}()

	return nil
}

// processAsync resolves the recipient and runs ingestion
func (p *Processor) processAsync(msg InboundMessage) error {
	user, err := p.db.GetUserByInboundAddress(msg.To)
	if err != nil {
		log.Printf("Error looking up user for address %q: %v", msg.To, err)
		if logErr := p.db.LogIngest(0, msg.From, msg.Subject, "smtp", "error",
			fmt.Sprintf("failed to look up recipient: %v", err)); logErr != nil {
			log.Printf("Failed to log error: %v", logErr)
		}
		return fmt.Errorf("failed to look up recipient: %w", err)
	}
	if user == nil {
		log.Printf("No user found for address %q - dropping message from %q with subject %q",
			msg.To, msg.From, msg.Subject)
		if err := p.db.LogIngest(0, msg.From, msg.Subject, "smtp", "dropped", "no user for address"); err != nil {
			log.Printf("Failed to log dropped message: %v", err)
		}
		return nil
	}

	candidate := ingest.CandidateNewsletter{
		SenderEmail: msg.From,
		SenderName:  msg.FromName,
		Subject:     msg.Subject,
		ReceivedAt:  msg.Date,
		HTMLBody:    msg.HTMLBody,
		TextBody:    msg.TextBody,
	}

	if _, err := p.ingestor.Ingest(user.ID, candidate, "smtp"); err != nil {
		log.Printf("Failed to ingest message for user %d: %v", user.ID, err)
		if p.notifier != nil {
			// Tell the user their message could not be imported. Storage
			// internals stay out of the notice.
			if notifyErr := p.notifier.SendImportFailure(user.Email, msg.Subject); notifyErr != nil {
				log.Printf("Failed to send import failure notice: %v", notifyErr)
			}
		}
		return fmt.Errorf("failed to ingest message: %w", err)
	}

	log.Printf("Successfully ingested message for user %d", user.ID)
	return nil
}
