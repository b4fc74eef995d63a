package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stackletter/stackletter/internal/config"
	"github.com/stackletter/stackletter/internal/database"
	"github.com/stackletter/stackletter/internal/email"
	"github.com/stackletter/stackletter/internal/ingest"
	"github.com/stackletter/stackletter/internal/storage"
)

func main() {
	// Configure logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.SetPrefix("[mailserver] ")

	// Create context that listens for the interrupt signal from the OS
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	dbConfig := &database.Config{
		Driver:     cfg.Database.Driver,
		DSN:        cfg.Database.Path,                              // For SQLite
		MigrateURL: fmt.Sprintf("sqlite3://%s", cfg.Database.Path), // Database URL for migrations
		Domain:     cfg.MailServer.Domain,
	}
	if cfg.Database.Driver == "postgres" {
		dbConfig.DSN = fmt.Sprintf("host=%s port=%d user=%s dbname=%s password=%s sslmode=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
			cfg.Database.Name, cfg.Database.Password, cfg.Database.SSLMode)
		dbConfig.MigrateURL = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.User, cfg.Database.Password, cfg.Database.Host,
			cfg.Database.Port, cfg.Database.Name, cfg.Database.SSLMode)
	}

	db, err := database.New(dbConfig)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run database migrations
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize blob storage
	blobs, err := storage.New(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize the ingestion orchestrator
	ingestor := ingest.New(db, blobs, ingest.Config{
		PrivateByDefault: cfg.Ingest.PrivateByDefault,
	})

	// Initialize the failure notifier (optional)
	notifier, err := email.NewNotifier(email.NotifierConfig{
		APIKey:      cfg.Mailgun.APIKey,
		Domain:      cfg.Mailgun.Domain,
		FromAddress: cfg.Mailgun.FromAddress,
	})
	if err != nil {
		log.Fatalf("Failed to initialize notifier: %v", err)
	}

	// Initialize the inbound processor
	processor := email.New(db, ingestor, notifier, email.ProcessorConfig{
		MaxSize: cfg.MailServer.MaxEmailSize,
	})

	go func() {
		if err := email.StartSMTPServer(processor, cfg.MailServer.SMTPHost, cfg.MailServer.SMTPPort); err != nil {
			log.Printf("SMTP server error: %v", err)
			stop()
		}
	}()
	log.Printf("Started SMTP server on %s:%d", cfg.MailServer.SMTPHost, cfg.MailServer.SMTPPort)

	// Keep the application running until we receive an interrupt signal
	<-ctx.Done()
	log.Println("Shutting down mail server...")
}
