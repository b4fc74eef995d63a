package main

import (
	"flag"
	"fmt"
	"log"
	"net/smtp"
	"os"
)

func main() {
	// Configure logging
	log.SetFlags(log.Ldate | log.Ltime)
	log.SetPrefix("[test-newsletter] ")

	// Parse command line arguments
	host := flag.String("host", "localhost", "SMTP server host")
	port := flag.Int("port", 2525, "SMTP server port")
	fromAddr := flag.String("from", "digest@newsletter.example.com", "From email address")
	fromName := flag.String("from-name", "The Example Digest", "From display name")
	toAddr := flag.String("to", "foo@localhost.localdomain", "Inbound address of the receiving user")
	subject := flag.String("subject", "Issue #42: Test Newsletter", "Newsletter subject")
	body := flag.String("body", "<html><body><h1>Test Issue</h1><p>Hello readers!</p></body></html>", "Newsletter body")
	flag.Parse()

	// Build message
	msg := fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/html; charset=utf-8\r\n"+
		"\r\n"+
		"%s\r\n", *fromName, *fromAddr, *toAddr, *subject, *body)

	// Prepare server address
	addr := fmt.Sprintf("%s:%d", *host, *port)
	log.Printf("Attempting to connect to %s...", addr)

	// Create SMTP client
	client, err := smtp.Dial(addr)
	if err != nil {
		if os.IsTimeout(err) {
			log.Fatalf("Connection timeout - Is the SMTP server running on %s?", addr)
		}
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()
	log.Println("Connected to server")

	// Set sender and recipient
	if err := client.Mail(*fromAddr); err != nil {
		log.Fatalf("Failed to set sender: %v", err)
	}
	if err := client.Rcpt(*toAddr); err != nil {
		log.Fatalf("Failed to set recipient: %v", err)
	}

	// Send the message body
	log.Println("Attempting to send message...")
	writer, err := client.Data()
	if err != nil {
		log.Fatalf("Failed to start data transaction: %v", err)
	}

	_, err = writer.Write([]byte(msg))
	if err != nil {
		log.Fatalf("Failed to write message: %v", err)
	}

	err = writer.Close()
	if err != nil {
		log.Fatalf("Failed to close data transaction: %v", err)
	}

	// Quit the connection
	err = client.Quit()
	if err != nil {
		log.Printf("Warning: Failed to close connection cleanly: %v", err)
	}

	// Print success message
	log.Println("\nNewsletter sent successfully!")
	log.Printf("From: %s <%s>", *fromName, *fromAddr)
	log.Printf("To: %s", *toAddr)
	log.Printf("Subject: %s", *subject)
}
