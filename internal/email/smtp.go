package email

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/mail"
	"strings"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
)

// The Backend implements SMTP server methods
type Backend struct {
	processor *Processor
}

// NewBackend creates a new SMTP backend
func NewBackend(processor *Processor) *Backend {
	return &Backend{processor: processor}
}

// NewSession implements smtp.Backend interface
func (bkd *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remoteAddr := c.Conn().RemoteAddr().String()
	log.Printf("New SMTP session started from %s", remoteAddr)
	return &Session{
		processor:  bkd.processor,
		remoteAddr: remoteAddr,
	}, nil
}

// A Session is returned after EHLO
type Session struct {
	processor  *Processor
	from       string
	to         []string
	remoteAddr string
	username   string
}

func (s *Session) AuthPlain(username, password string) error {
	log.Printf("Auth attempt with username: %s", username)
	s.username = username
	// For this implementation, we'll accept all auth
	return nil
}

func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	log.Printf("MAIL FROM: %s", from)
	s.from = from
	return nil
}

func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	log.Printf("RCPT TO: %s", to)
	s.to = append(s.to, to)
	return nil
}

func (s *Session) Data(r io.Reader) error {
	log.Printf("Starting to receive message data")
	data, err := io.ReadAll(r)
	if err != nil {
		log.Printf("Error reading message data: %v", err)
		return fmt.Errorf("failed to read message data: %w", err)
	}
	log.Printf("Received message data of length: %d bytes", len(data))

	headers, body := splitMessage(string(data))

	subject := getFirstHeader(headers, "Subject")

	// Prefer the From header over the envelope sender: newsletters often
	// arrive through forwarders that rewrite the envelope.
	fromAddr := s.from
	fromName := ""
	if fromHeader := getFirstHeader(headers, "From"); fromHeader != "" {
		if addr, err := mail.ParseAddress(fromHeader); err == nil {
			fromAddr = addr.Address
			fromName = addr.Name
		}
	}

	receivedTime := time.Now()
	if dateHeader := getFirstHeader(headers, "Date"); dateHeader != "" {
		if parsedTime, err := mail.ParseDate(dateHeader); err == nil {
			receivedTime = parsedTime
		}
	}

	htmlBody := ""
	textBody := ""
	if strings.Contains(strings.ToLower(getFirstHeader(headers, "Content-Type")), "text/html") {
		htmlBody = body
	} else {
		textBody = body
	}

	// Process for each recipient
	for _, recipient := range s.to {
		msg := InboundMessage{
			From:     fromAddr,
			FromName: fromName,
			To:       recipient,
			Subject:  subject,
			Date:     receivedTime,

			HTMLBody: htmlBody,
			TextBody: textBody,

			RemoteAddr: s.remoteAddr,
			ReceivedAt: time.Now(),

			Headers: headers,
		}

		log.Printf("Processing message to: %s", recipient)

		if err := s.processor.Process(msg); err != nil {
			log.Printf("Failed to process message for recipient %s: %v", recipient, err)
			return fmt.Errorf("failed to process message for %s: %w", recipient, err)
		}
		log.Printf("Successfully queued message for recipient: %s", recipient)
	}

	return nil
}

// splitMessage separates raw message data into headers and body,
// handling header continuation lines
func splitMessage(raw string) (map[string][]string, string) {
	lines := strings.Split(raw, "\r\n")

	headers := make(map[string][]string)
	var currentHeader string
	bodyStart := len(lines)

	for i, line := range lines {
		if line == "" {
			bodyStart = i + 1
			break
		}

		// Handle header continuation lines
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if currentHeader != "" {
				lastVal := headers[currentHeader][len(headers[currentHeader])-1]
				headers[currentHeader][len(headers[currentHeader])-1] = lastVal + " " + strings.TrimSpace(line)
			}
			continue
		}

		if idx := strings.Index(line, ":"); idx > 0 {
			currentHeader = strings.TrimSpace(line[:idx])
			value := strings.TrimSpace(line[idx+1:])
			headers[currentHeader] = append(headers[currentHeader], value)
		}
	}

	body := ""
	if bodyStart < len(lines) {
		body = strings.Join(lines[bodyStart:], "\r\n")
	}
	return headers, body
}

// Helper function to get first header value
func getFirstHeader(headers map[string][]string, key string) string {
	if values := headers[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func (s *Session) Reset() {
	log.Printf("Resetting SMTP session")
	s.from = ""
	s.to = []string{}
	s.username = ""
}

func (s *Session) Logout() error {
	log.Printf("SMTP session logout")
	return nil
}

// loggingListener wraps a net.Listener to log connections
type loggingListener struct {
	net.Listener
}

func (l *loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		log.Printf("Failed to accept connection: %v", err)
		return conn, err
	}

	log.Printf("New TCP connection from: %s", conn.RemoteAddr())
	return &loggingConn{Conn: conn}, nil
}

// loggingConn wraps a net.Conn to log disconnections
type loggingConn struct {
	net.Conn
}

func (c *loggingConn) Close() error {
	log.Printf("TCP connection closed from: %s", c.RemoteAddr())
	return c.Conn.Close()
}

// StartSMTPServer starts the SMTP server
func StartSMTPServer(processor *Processor, host string, port int) error {
	be := NewBackend(processor)
	s := smtp.NewServer(be)

	// Force dual-stack (IPv4 + IPv6) by setting specific listener options
	addr := fmt.Sprintf("%s:%d", host, port)
	config := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if opErr != nil {
					return
				}
				// Force dual-stack
				opErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_V6ONLY, 0)
			}); err != nil {
				return err
			}
			return opErr
		},
	}

	// Create a TCP listener with dual-stack support
	listener, err := config.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.Addr = addr
	s.Domain = host
	s.ReadTimeout = 30 * time.Second
	s.WriteTimeout = 30 * time.Second
	s.MaxMessageBytes = 10 * 1024 * 1024
	s.MaxRecipients = 50
	s.AllowInsecureAuth = true

	log.Printf("Starting SMTP server at %s", s.Addr)
	log.Printf("Server configuration:")
	log.Printf("- Domain: %s", s.Domain)
	log.Printf("- Read Timeout: %d seconds", s.ReadTimeout/time.Second)
	log.Printf("- Write Timeout: %d seconds", s.WriteTimeout/time.Second)
	log.Printf("- Max Message Size: %d bytes", s.MaxMessageBytes)
	log.Printf("- Max Recipients: %d", s.MaxRecipients)

	// Wrap the listener with logging
	loggingListener := &loggingListener{Listener: listener}

	return s.Serve(loggingListener)
}
