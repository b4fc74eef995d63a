package email

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

// Notifier sends service mail to users via Mailgun
type Notifier struct {
	mg          mailgun.Mailgun
	domain      string
	fromAddress string
}

// NotifierConfig holds Mailgun configuration
type NotifierConfig struct {
	APIKey      string
	Domain      string
	FromAddress string
}

// NewNotifier creates a new Mailgun notifier. Returns nil without error
// when Mailgun is not configured.
func NewNotifier(config NotifierConfig) (*Notifier, error) {
	if config.APIKey == "" {
		return nil, nil // Mailgun not configured
	}

	if config.Domain == "" {
		return nil, fmt.Errorf("mailgun domain is required when an API key is set")
	}
	if config.FromAddress == "" {
		return nil, fmt.Errorf("mailgun from address is required when an API key is set")
	}
	// Validate that from address matches domain
	if !strings.HasSuffix(config.FromAddress, "@"+config.Domain) {
		return nil, fmt.Errorf("mailgun from address (%s) must use the same domain as the mailgun domain (%s)",
			config.FromAddress, config.Domain)
	}

	log.Printf("Initializing Mailgun with domain: %s, from address: %s", config.Domain, config.FromAddress)
	mg := mailgun.NewMailgun(config.Domain, config.APIKey)

	// Test the API key by getting sending stats
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := mg.GetStats(ctx, []string{"accepted", "delivered"}, &mailgun.GetStatOptions{})
	if err != nil {
		if strings.Contains(err.Error(), "401") {
			return nil, fmt.Errorf("authentication failed - please verify your API key and domain settings in the Mailgun dashboard")
		}
		return nil, fmt.Errorf("failed to validate Mailgun credentials: %w", err)
	}

	return &Notifier{
		mg:          mg,
		domain:      config.Domain,
		fromAddress: config.FromAddress,
	}, nil
}

// SendImportFailure tells a user one of their messages could not be
// imported. The notice deliberately carries no storage internals.
func (n *Notifier) SendImportFailure(email, subject string) error {
	noticeSubject := "A newsletter could not be imported"
	body := fmt.Sprintf(`Hello!

A message forwarded to your inbound address could not be imported:

    %s

You can forward it again at any time. If the problem persists, please
contact support.

Best regards,
Stackletter`, subject)

	log.Printf("Sending import failure notice to %s", email)
	message := n.mg.NewMessage(n.fromAddress, noticeSubject, body, email)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, id, err := n.mg.Send(ctx, message)
	if err != nil {
		if strings.Contains(err.Error(), "401") {
			return fmt.Errorf("unauthorized: please verify your Mailgun API key and domain settings")
		}
		return fmt.Errorf("failed to send import failure notice: %w", err)
	}
	log.Printf("Sent import failure notice to %s with message ID: %s", email, id)

	return nil
}

// SendWelcome sends a new user their inbound address
func (n *Notifier) SendWelcome(email, inboundAddress string) error {
	subject := "Your Stackletter inbound address"
	body := fmt.Sprintf(`Hello!

Your account is ready. Forward newsletters to your personal inbound
address, or set it as the delivery address for your subscriptions:

    %s

Best regards,
Stackletter`, inboundAddress)

	message := n.mg.NewMessage(n.fromAddress, subject, body, email)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, id, err := n.mg.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send welcome email: %w", err)
	}
	log.Printf("Sent welcome email to %s with message ID: %s", email, id)

	return nil
}
