package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/stackletter/stackletter/internal/database"
	"github.com/stackletter/stackletter/internal/email"
	"github.com/stackletter/stackletter/internal/ingest"
	"github.com/stackletter/stackletter/internal/storage"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// userIDKey is the context key for the user ID
	userIDKey   contextKey = "userID"
	userRoleKey contextKey = "userRole"
)

// Server represents the admin interface server
type Server struct {
	db       *database.DB
	blobs    *storage.Store
	ingestor *ingest.Ingestor
	notifier *email.Notifier
	sessions *SessionManager
}

// New creates a new admin server. The notifier may be nil.
func New(db *database.DB, blobs *storage.Store, ingestor *ingest.Ingestor, notifier *email.Notifier) *Server {
	return &Server{
		db:       db,
		blobs:    blobs,
		ingestor: ingestor,
		notifier: notifier,
		sessions: NewSessionManager(),
	}
}

// Start starts the admin server
func (s *Server) Start(addr string) error {
	mux := s.routes()
	log.Printf("Admin server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Auth routes
	mux.HandleFunc("/login", s.HandleLogin)
	mux.HandleFunc("/logout", s.HandleLogout)

	// Public sender directory: aggregate counters only
	mux.HandleFunc("/api/senders", s.handleSenders)

	// User routes
	mux.HandleFunc("/api/newsletters", s.RequireAuth(s.handleNewsletters))
	mux.HandleFunc("/api/newsletters/body", s.RequireAuth(s.handleNewsletterBody))
	mux.HandleFunc("/api/relationships", s.RequireAuth(s.handleRelationships))
	mux.HandleFunc("/api/folders", s.RequireAuth(s.handleFolders))
	mux.HandleFunc("/api/import", s.RequireAuth(s.handleImport))

	// Admin routes
	mux.HandleFunc("/api/users", s.RequireAuth(s.RequireAdmin(s.handleUsers)))
	mux.HandleFunc("/api/publish", s.RequireAuth(s.RequireAdmin(s.handlePublish)))
	mux.HandleFunc("/api/logs", s.RequireAuth(s.RequireAdmin(s.handleLogs)))
	mux.HandleFunc("/api/reconcile", s.RequireAuth(s.RequireAdmin(s.handleReconcile)))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeDBError maps data-layer sentinel errors onto HTTP statuses
func writeDBError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, database.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// senderView is the public projection of a sender record
type senderView struct {
	ID              uint   `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name,omitempty"`
	Domain          string `json:"domain"`
	SubscriberCount int64  `json:"subscriber_count"`
	NewsletterCount int64  `json:"newsletter_count"`
}

func (s *Server) handleSenders(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	senders, err := s.db.ListSenders()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]senderView, 0, len(senders))
	for _, sender := range senders {
		views = append(views, senderView{
			ID:              sender.ID,
			Email:           sender.Email,
			Name:            sender.Name,
			Domain:          sender.Domain,
			SubscriberCount: sender.SubscriberCount,
			NewsletterCount: sender.NewsletterCount,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// newsletterView is the per-user projection of a newsletter record
type newsletterView struct {
	ID               uint      `json:"id"`
	SenderID         uint      `json:"sender_id"`
	Subject          string    `json:"subject"`
	ReceivedAt       time.Time `json:"received_at"`
	IsPrivate        bool      `json:"is_private"`
	HasSharedContent bool      `json:"has_shared_content"`
}

func (s *Server) handleNewsletters(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(uint)

	switch r.Method {
	case "GET":
		var senderID *uint
		if raw := r.URL.Query().Get("sender_id"); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				http.Error(w, "Invalid sender_id", http.StatusBadRequest)
				return
			}
			id := uint(parsed)
			senderID = &id
		}

		newsletters, err := s.db.ListUserNewsletters(userID, senderID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		views := make([]newsletterView, 0, len(newsletters))
		for _, n := range newsletters {
			views = append(views, newsletterView{
				ID:               n.ID,
				SenderID:         n.SenderID,
				Subject:          n.Subject,
				ReceivedAt:       n.ReceivedAt,
				IsPrivate:        n.IsPrivate,
				HasSharedContent: n.SharedContentID != nil,
			})
		}
		writeJSON(w, http.StatusOK, views)

	case "DELETE":
		if !s.sessions.ValidateCSRFToken(r.URL.Query().Get("token")) {
			http.Error(w, "Invalid CSRF token", http.StatusForbidden)
			return
		}
		newsletterID, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		role := r.Context().Value(userRoleKey).(string)
		if role == "admin" {
			err = s.db.AdminDeleteUserNewsletter(newsletterID)
		} else {
			err = s.db.DeleteUserNewsletter(userID, newsletterID)
		}
		if err != nil {
			writeDBError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleNewsletterBody(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.Context().Value(userIDKey).(uint)

	newsletterID, err := parseIDParam(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	newsletter, err := s.db.GetUserNewsletter(userID, newsletterID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if newsletter == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	key := newsletter.PrivateStorageKey
	if newsletter.SharedContentID != nil {
		content, err := s.db.GetSharedContentByID(*newsletter.SharedContentID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if content == nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		key = content.StorageKey
	}

	body, err := s.blobs.Read(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(body)
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.Context().Value(userIDKey).(uint)

	if !s.sessions.ValidateCSRFToken(r.FormValue("token")) {
		http.Error(w, "Invalid CSRF token", http.StatusForbidden)
		return
	}

	senderID, err := parseIDForm(r, "sender_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var patch database.RelationshipPatch
	if raw := r.FormValue("is_private"); raw != "" {
		isPrivate, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "Invalid is_private", http.StatusBadRequest)
			return
		}
		patch.IsPrivate = &isPrivate
	}
	if raw := r.FormValue("folder_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			http.Error(w, "Invalid folder_id", http.StatusBadRequest)
			return
		}
		id := uint(parsed)
		patch.FolderID = &id
	}

	rel, err := s.db.UpdateRelationship(userID, senderID, patch)
	if err != nil {
		writeDBError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sender_id":  rel.SenderID,
		"is_private": rel.IsPrivate,
		"folder_id":  rel.FolderID,
	})
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.Context().Value(userIDKey).(uint)

	folders, err := s.db.ListFolders(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

// handleImport is the manual file-drop entry path. It feeds the same
// orchestrator as inbound SMTP, so all uniqueness and counter guarantees
// hold across entry paths racing on the same sender.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.Context().Value(userIDKey).(uint)

	if !s.sessions.ValidateCSRFToken(r.FormValue("token")) {
		http.Error(w, "Invalid CSRF token", http.StatusForbidden)
		return
	}

	senderEmail := r.FormValue("sender_email")
	if senderEmail == "" {
		http.Error(w, "sender_email required", http.StatusBadRequest)
		return
	}

	receivedAt := time.Now()
	if raw := r.FormValue("received_at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid received_at", http.StatusBadRequest)
			return
		}
		receivedAt = parsed
	}

	candidate := ingest.CandidateNewsletter{
		SenderEmail: senderEmail,
		SenderName:  r.FormValue("sender_name"),
		Subject:     r.FormValue("subject"),
		ReceivedAt:  receivedAt,
		HTMLBody:    r.FormValue("html_body"),
		TextBody:    r.FormValue("text_body"),
	}

	newsletter, err := s.ingestor.Ingest(userID, candidate, "import")
	if err != nil {
		log.Printf("Import failed for user %d: %v", userID, err)
		// Storage internals stay out of the user-visible message.
		http.Error(w, "This message could not be imported", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         newsletter.ID,
		"sender_id":  newsletter.SenderID,
		"is_private": newsletter.IsPrivate,
	})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.sessions.ValidateCSRFToken(r.FormValue("token")) {
		http.Error(w, "Invalid CSRF token", http.StatusForbidden)
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	role := r.FormValue("role")
	if role == "" {
		role = "user"
	}
	if email == "" || password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	user, err := s.db.CreateUser(email, password, role)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if s.notifier != nil {
		if err := s.notifier.SendWelcome(user.Email, user.InboundAddress); err != nil {
			log.Printf("Failed to send welcome email to %s: %v", user.Email, err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":              user.ID,
		"email":           user.Email,
		"inbound_address": user.InboundAddress,
		"role":            user.Role,
	})
}

// handlePublish republishes a private newsletter into the community catalog
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.sessions.ValidateCSRFToken(r.FormValue("token")) {
		http.Error(w, "Invalid CSRF token", http.StatusForbidden)
		return
	}

	newsletterID, err := parseIDForm(r, "newsletter_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ref, err := s.ingestor.PublishCommunity(newsletterID)
	if err != nil {
		writeDBError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ref)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	logs, err := s.db.ListIngestLogs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	repair := r.FormValue("repair") == "true"
	drifts, err := s.db.ReconcileCounters(repair)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"repaired": repair,
		"drifts":   drifts,
	})
}

func parseIDParam(r *http.Request, name string) (uint, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s required", name)
	}
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(parsed), nil
}

func parseIDForm(r *http.Request, name string) (uint, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return 0, fmt.Errorf("%s required", name)
	}
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(parsed), nil
}
