package database

import (
	"time"
)

// User represents an account in the system
type User struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	Email          string    `gorm:"uniqueIndex;not null"`
	PasswordHash   string    `gorm:"not null"`
	InboundAddress string    `gorm:"uniqueIndex;not null"`
	Role           string    `gorm:"not null;default:'user'"`
	IsActive       bool      `gorm:"not null;default:true"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime"`
	LastLogin      *time.Time
}

// Sender is the canonical global record for one email address that has
// sent newsletters into the system. It is not owned by any user.
//
// There is exactly one Sender per normalized email. SubscriberCount tracks
// the number of distinct users with a Relationship to this sender;
// NewsletterCount tracks the number of newsletters ever stored for it.
// Duplicate rows can exist transiently while concurrent ingestion paths
// race on a new address; the conflict protocol converges them to one.
type Sender struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	Email           string `gorm:"index;not null"`
	Name            string
	Domain          string    `gorm:"index"`
	SubscriberCount int64     `gorm:"not null;default:0"`
	NewsletterCount int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"not null;autoUpdateTime"`
}

// Relationship holds one user's settings for one sender: privacy flag and
// folder assignment. At most one row per (UserID, SenderID); the key is
// indexed but not DB-unique, duplicates are reconciled by the conflict
// protocol so the subscriber counter is incremented exactly once.
type Relationship struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	UserID    uint `gorm:"index:idx_relationships_user_sender;not null"`
	SenderID  uint `gorm:"index:idx_relationships_user_sender;not null"`
	IsPrivate bool `gorm:"not null;default:false"`
	FolderID  *uint
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Sender    Sender    `gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE"`
}

// Folder is owned by exactly one user. Names are sanitized, at most 100
// characters, and unique case-insensitively among that user's folders.
type Folder struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	UserID    uint      `gorm:"index;not null"`
	Name      string    `gorm:"not null"`
	IsHidden  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// SharedContent is a content-addressed body shared across every user who
// received identical content. One row per distinct ContentHash; storage is
// written once and ReaderCount tracks how many newsletters point at it.
type SharedContent struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ContentHash string `gorm:"index;not null"`
	StorageKey  string `gorm:"not null"`
	ReaderCount int64  `gorm:"not null;default:1"`
	Subject     string
	SenderEmail string
	SenderName  string
	FirstSeenAt time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime"`
}

// UserNewsletter is the per-user, per-message record. Exactly one of
// SharedContentID / PrivateStorageKey is set, matching IsPrivate. The
// storage location is immutable after creation.
type UserNewsletter struct {
	ID                uint      `gorm:"primaryKey;autoIncrement"`
	UserID            uint      `gorm:"index;not null"`
	SenderID          uint      `gorm:"index;not null"`
	Subject           string    `gorm:"not null"`
	ReceivedAt        time.Time `gorm:"not null"`
	IsPrivate         bool      `gorm:"not null"`
	SharedContentID   *uint
	PrivateStorageKey string
	CreatedAt         time.Time `gorm:"not null;autoCreateTime"`
	User              User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Sender            Sender    `gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE"`
}

// CommunityPublish records one community publish of a private newsletter
// onto shared content. The original newsletter record stays private and
// never references the content, so these rows are what back the published
// share of a reader count during reconciliation. They are never removed,
// not even when the source newsletter is deleted: a publish is not
// retracted by deleting the private original.
type CommunityPublish struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	NewsletterID    uint      `gorm:"index;not null"`
	SharedContentID uint      `gorm:"index;not null"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime"`
}

// IngestLog records one ingestion attempt for the admin log view
type IngestLog struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserID       uint   `gorm:"index"`
	SenderEmail  string `gorm:"not null"`
	Subject      string
	Source       string `gorm:"not null"`
	Status       string `gorm:"not null"`
	ErrorMessage string
	ProcessedAt  time.Time `gorm:"not null;autoCreateTime"`
}
