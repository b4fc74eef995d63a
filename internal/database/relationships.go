package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// RelationshipPatch is a partial update for a user's sender settings
type RelationshipPatch struct {
	IsPrivate *bool
	FolderID  *uint
}

// ResolveRelationship returns the user's settings for a sender, creating
// them lazily on first contact. Only the call whose insert survives the
// conflict resolution increments the sender's subscriber counter, so the
// counter rises by exactly one per (user, sender) pair no matter how many
// ingestion paths race on it.
func (db *DB) ResolveRelationship(userID, senderID uint, privateByDefault bool) (*Relationship, error) {
	var existing Relationship
	err := db.Where("user_id = ? AND sender_id = ?", userID, senderID).
		Order("created_at, id").First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up relationship: %w", err)
	}

	rel := Relationship{
		UserID:    userID,
		SenderID:  senderID,
		IsPrivate: privateByDefault,
	}
	if err := db.Create(&rel).Error; err != nil {
		return nil, fmt.Errorf("failed to create relationship: %w", err)
	}

	kept, isCreator, err := resolveDuplicates(db.DB, rel.ID, func() ([]Relationship, error) {
		var rows []Relationship
		err := db.Where("user_id = ? AND sender_id = ?", userID, senderID).Find(&rows).Error
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relationship for user %d sender %d: %w", userID, senderID, err)
	}

	if isCreator {
		// Sole keeper of a genuinely new relationship: count the subscriber.
		if err := db.Model(&Sender{}).Where("id = ?", senderID).
			UpdateColumn("subscriber_count", gorm.Expr("subscriber_count + ?", 1)).Error; err != nil {
			return nil, fmt.Errorf("failed to increment subscriber count: %w", err)
		}
	}

	return kept, nil
}

// GetRelationship retrieves the relationship for (user, sender), or nil
func (db *DB) GetRelationship(userID, senderID uint) (*Relationship, error) {
	var rel Relationship
	err := db.Where("user_id = ? AND sender_id = ?", userID, senderID).
		Order("created_at, id").First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relationship: %w", err)
	}
	return &rel, nil
}

// UpdateRelationship applies a partial patch to an existing relationship.
// Returns ErrNotFound if no relationship exists and ErrForbidden if the
// supplied folder does not belong to the user.
func (db *DB) UpdateRelationship(userID, senderID uint, patch RelationshipPatch) (*Relationship, error) {
	rel, err := db.GetRelationship(userID, senderID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, ErrNotFound
	}

	updates := map[string]interface{}{}
	if patch.IsPrivate != nil {
		updates["is_private"] = *patch.IsPrivate
	}
	if patch.FolderID != nil {
		var folder Folder
		err := db.First(&folder, *patch.FolderID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get folder: %w", err)
		}
		if folder.UserID != userID {
			return nil, ErrForbidden
		}
		updates["folder_id"] = *patch.FolderID
	}
	if len(updates) == 0 {
		return rel, nil
	}

	if err := db.Model(rel).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update relationship: %w", err)
	}

	return rel, nil
}
