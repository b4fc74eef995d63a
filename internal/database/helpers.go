package database

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
)

// GetNewsletterByID finds a newsletter by its ID without requiring the
// owning user. This is used by admin operations such as community publish
// that act on newsletters across users.
func (db *DB) GetNewsletterByID(newsletterID uint) (*UserNewsletter, error) {
	var newsletter UserNewsletter
	err := db.First(&newsletter, newsletterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find newsletter %d: %w", newsletterID, err)
	}
	return &newsletter, nil
}

// AdminDeleteUserNewsletter allows admins to remove any user's newsletter
// record. Shared storage objects are never deleted; only reader-count
// bookkeeping is adjusted, same as the owner's delete path.
func (db *DB) AdminDeleteUserNewsletter(newsletterID uint) error {
	newsletter, err := db.GetNewsletterByID(newsletterID)
	if err != nil {
		return err
	}

	log.Printf("Admin deleting newsletter %d (owned by user ID: %d)", newsletter.ID, newsletter.UserID)

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
