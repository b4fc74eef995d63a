package database

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DB wraps the database connection and provides additional functionality
type DB struct {
	*gorm.DB
	config *Config
}

// New creates a new database connection
func New(config *Config) (*DB, error) {
	var dialector gorm.Dialector

	switch config.Driver {
	case "postgres":
		dialector = postgres.Open(config.DSN)
	case "sqlite", "sqlite3": // Accept both "sqlite" and "sqlite3"
		dialector = sqlite.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{
		DB:     db,
		config: config,
	}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	m, err := migrate.New("file://migrations", db.config.MigrateURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Println("No migrations to run")
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser creates a new user with a generated inbound address. If a
// user with the email already exists it is returned as-is.
func (db *DB) CreateUser(email, password, role string) (*User, error) {
	// Validate role
	role = strings.ToLower(role)
	if role != "admin" && role != "user" {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	email = strings.ToLower(email)
	var existingUser User
	err := db.Where("email = ?", email).First(&existingUser).Error
	if err == nil {
		// User already exists
		return &existingUser, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	inbound, err := db.generateInboundAddress()
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:          email,
		PasswordHash:   string(hash),
		InboundAddress: inbound,
		Role:           role,
		IsActive:       true,
	}

	if err := db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// generateInboundAddress generates a unique address on the service domain
// that the user forwards newsletters to.
func (db *DB) generateInboundAddress() (string, error) {
	// Try up to 3 times to generate a unique address
	for attempts := 0; attempts < 3; attempts++ {
		randomBytes := make([]byte, 16)
		if _, err := rand.Read(randomBytes); err != nil {
			return "", fmt.Errorf("failed to generate random address: %w", err)
		}
		randomPart := strings.ToLower(base64.URLEncoding.EncodeToString(randomBytes)[:12])
		address := fmt.Sprintf("%s@%s", randomPart, db.config.Domain)

		var count int64
		if err := db.Model(&User{}).Where("inbound_address = ?", address).Count(&count).Error; err != nil {
			return "", fmt.Errorf("failed to check address uniqueness: %w", err)
		}
		if count == 0 {
			return address, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique inbound address after 3 attempts")
}

// Authenticate verifies a user's credentials and returns the user
func (db *DB) Authenticate(email, password string) (*User, error) {
	user, err := db.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	return user, nil
}

// GetUserByEmail retrieves a user by their account email address
func (db *DB) GetUserByEmail(email string) (*User, error) {
	var user User
	err := db.Where("email = ? AND is_active = ?", strings.ToLower(email), true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByInboundAddress retrieves the user owning an inbound address
func (db *DB) GetUserByInboundAddress(address string) (*User, error) {
	var user User
	err := db.Where("inbound_address = ? AND is_active = ?", strings.ToLower(address), true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by their ID
func (db *DB) GetUserByID(userID uint) (*User, error) {
	var user User
	err := db.Where("id = ? AND is_active = ?", userID, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateLastLogin updates a user's last login timestamp
func (db *DB) UpdateLastLogin(userID uint) error {
	if err := db.Model(&User{}).Where("id = ?", userID).Update("last_login", time.Now()).Error; err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// ChangePassword changes a user's password
func (db *DB) ChangePassword(userID uint, currentPassword, newPassword string) error {
	user, err := db.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrNotFound
	}

	// If current password is provided, verify it
	if currentPassword != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
			return fmt.Errorf("invalid current password")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := db.Model(user).Update("password_hash", string(hash)).Error; err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}
