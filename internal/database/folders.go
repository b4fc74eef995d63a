package database

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"gorm.io/gorm"
)

const (
	// defaultFolderName is used when neither the sender name nor the
	// sender email survives sanitization.
	defaultFolderName = "Newsletters"

	maxFolderNameLen = 100
)

// sanitizeFolderName trims the name, collapses whitespace runs (including
// newlines and tabs) to single spaces, strips control characters and
// truncates to the maximum folder name length.
func sanitizeFolderName(name string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsControl(r):
			// drop
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	runes := []rune(b.String())
	if len(runes) > maxFolderNameLen {
		runes = runes[:maxFolderNameLen]
	}
	return strings.TrimSpace(string(runes))
}

// uniqueFolderName picks a folder name unique case-insensitively among the
// user's existing folders. On collision the lowest free counter >= 2 is
// appended, scanning sequentially so gaps get filled first.
func (db *DB) uniqueFolderName(userID uint, base string) (string, error) {
	var folders []Folder
	if err := db.Where("user_id = ?", userID).Find(&folders).Error; err != nil {
		return "", fmt.Errorf("failed to list folders: %w", err)
	}
	taken := make(map[string]bool, len(folders))
	for _, f := range folders {
		taken[strings.ToLower(f.Name)] = true
	}

	if !taken[strings.ToLower(base)] {
		return base, nil
	}
	for n := 2; ; n++ {
		suffix := fmt.Sprintf(" %d", n)
		candidate := base
		if runes := []rune(candidate); len(runes)+len(suffix) > maxFolderNameLen {
			candidate = strings.TrimSpace(string(runes[:maxFolderNameLen-len(suffix)]))
		}
		candidate += suffix
		if !taken[strings.ToLower(candidate)] {
			return candidate, nil
		}
	}
}

// ResolveFolder returns the folder for (user, sender), deriving and
// creating one on first need. The fast path -- a relationship that already
// carries a folder -- does no further work. When two ingestion paths race
// to attach, the loser deletes the folder it just created and returns the
// winner's, so no orphan folders or duplicate attachments remain.
func (db *DB) ResolveFolder(userID, senderID uint, privateByDefault bool) (uint, error) {
	rel, err := db.GetRelationship(userID, senderID)
	if err != nil {
		return 0, err
	}
	if rel != nil && rel.FolderID != nil {
		return *rel.FolderID, nil
	}

	sender, err := db.GetSenderByID(senderID)
	if err != nil {
		return 0, err
	}
	if sender == nil {
		return 0, ErrNotFound
	}

	base := sanitizeFolderName(sender.Name)
	if base == "" {
		base = sanitizeFolderName(sender.Email)
	}
	if base == "" {
		base = defaultFolderName
	}

	name, err := db.uniqueFolderName(userID, base)
	if err != nil {
		return 0, err
	}
	folder := Folder{UserID: userID, Name: name}
	if err := db.Create(&folder).Error; err != nil {
		return 0, fmt.Errorf("failed to create folder: %w", err)
	}

	if rel == nil {
		rel, err = db.ResolveRelationship(userID, senderID, privateByDefault)
		if err != nil {
			return 0, err
		}
	}

	return db.attachFolder(userID, senderID, rel, &folder, privateByDefault)
}

// attachFolder attaches a freshly created folder to the relationship. The
// update is conditional on folder_id still being unset; losing that race,
// or losing the relationship row itself to a concurrent reconciliation,
// means our folder is an orphan and gets discarded.
func (db *DB) attachFolder(userID, senderID uint, rel *Relationship, folder *Folder, privateByDefault bool) (uint, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res := db.Model(&Relationship{}).
			Where("id = ? AND folder_id IS NULL", rel.ID).
			Update("folder_id", folder.ID)
		if res.Error != nil {
			return 0, fmt.Errorf("failed to attach folder: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return folder.ID, nil
		}

		var current Relationship
		err := db.First(&current, rel.ID).Error
		if err == nil {
			if current.FolderID == nil {
				// Should not happen: the conditional update matched nothing
				// yet the row still has no folder. Retry once.
				continue
			}
			if *current.FolderID == folder.ID {
				return folder.ID, nil
			}
			// Another path won; drop our orphan and use theirs.
			if err := db.Delete(&Folder{}, folder.ID).Error; err != nil {
				return 0, fmt.Errorf("failed to delete orphaned folder: %w", err)
			}
			return *current.FolderID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("failed to re-read relationship: %w", err)
		}

		// Our relationship row was a duplicate that a concurrent
		// reconciliation deleted. Resolve the canonical row and retry.
		rel, err = db.ResolveRelationship(userID, senderID, privateByDefault)
		if err != nil {
			return 0, err
		}
		if rel.FolderID != nil {
			if err := db.Delete(&Folder{}, folder.ID).Error; err != nil {
				return 0, fmt.Errorf("failed to delete orphaned folder: %w", err)
			}
			return *rel.FolderID, nil
		}
	}

	// Retries exhausted without attaching. Discard the folder rather than
	// hand back an ID no relationship points at.
	if err := db.Delete(&Folder{}, folder.ID).Error; err != nil {
		return 0, fmt.Errorf("failed to delete unattached folder: %w", err)
	}
	return 0, fmt.Errorf("failed to attach folder to relationship %d for user %d", rel.ID, userID)
}

// ListFolders returns all folders owned by a user
func (db *DB) ListFolders(userID uint) ([]Folder, error) {
	var folders []Folder
	if err := db.Where("user_id = ?", userID).Order("name").Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}
