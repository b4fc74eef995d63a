package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// NormalizeEmail normalizes a sender address for registry lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailDomain derives the domain part of a normalized address
func emailDomain(email string) string {
	if idx := strings.LastIndex(email, "@"); idx >= 0 {
		return email[idx+1:]
	}
	return ""
}

// ResolveSender returns the canonical Sender for an email address, creating
// it on first sight. A supplied name is back-filled onto a record that has
// none; an existing name is never overwritten. Counters are never mutated
// here. "Already exists" is the expected common case, not an error.
func (db *DB) ResolveSender(email, name string) (*Sender, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, fmt.Errorf("sender email is empty")
	}

	var existing Sender
	err := db.Where("email = ?", normalized).Order("created_at, id").First(&existing).Error
	if err == nil {
		if name != "" && existing.Name == "" {
			if err := db.Model(&existing).Update("name", name).Error; err != nil {
				return nil, fmt.Errorf("failed to back-fill sender name: %w", err)
			}
			existing.Name = name
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up sender: %w", err)
	}

	sender := Sender{
		Email:  normalized,
		Name:   name,
		Domain: emailDomain(normalized),
	}
	if err := db.Create(&sender).Error; err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	kept, isCreator, err := resolveDuplicates(db.DB, sender.ID, func() ([]Sender, error) {
		var rows []Sender
		err := db.Where("email = ?", normalized).Find(&rows).Error
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sender for %s: %w", normalized, err)
	}

	// Our insert lost the race but carried a name the winner lacks.
	if !isCreator && name != "" && kept.Name == "" {
		if err := db.Model(&Sender{}).Where("id = ?", kept.ID).Update("name", name).Error; err != nil {
			return nil, fmt.Errorf("failed to back-fill sender name: %w", err)
		}
		kept.Name = name
	}

	return kept, nil
}

// GetSenderByID retrieves a sender by ID
func (db *DB) GetSenderByID(senderID uint) (*Sender, error) {
	var sender Sender
	err := db.First(&sender, senderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sender: %w", err)
	}
	return &sender, nil
}

// ListSenders returns the public sender directory ordered by subscriber
// count. Only aggregate counters are exposed, never subscriber identity.
func (db *DB) ListSenders() ([]Sender, error) {
	var senders []Sender
	err := db.Order("subscriber_count DESC, email").Find(&senders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list senders: %w", err)
	}
	return senders, nil
}
