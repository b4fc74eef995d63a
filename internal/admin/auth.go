package admin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Session represents a user session
type Session struct {
	Token     string
	UserID    uint
	Role      string
	ExpiresAt time.Time
}

// SessionManager handles user sessions
type SessionManager struct {
	mu         sync.Mutex
	sessions   map[string]Session
	csrfTokens map[string]time.Time
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions:   make(map[string]Session),
		csrfTokens: make(map[string]time.Time),
	}
}

// CreateSession creates a new session for a user
func (sm *SessionManager) CreateSession(userID uint, role string) (string, error) {
	// Generate random token
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[token] = Session{
		Token:     token,
		UserID:    userID,
		Role:      role,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}

	return token, nil
}

// GetSession retrieves a session by token
func (sm *SessionManager) GetSession(token string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if session, exists := sm.sessions[token]; exists {
		if time.Now().Before(session.ExpiresAt) {
			return &session
		}
		delete(sm.sessions, token)
	}
	return nil
}

// ClearSession removes a session
func (sm *SessionManager) ClearSession(token string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, token)
}

// GenerateCSRFToken generates a new CSRF token
func (sm *SessionManager) GenerateCSRFToken() string {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return ""
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	// Store token with expiration
	sm.csrfTokens[token] = time.Now().Add(1 * time.Hour)

	return token
}

// ValidateCSRFToken validates a CSRF token
func (sm *SessionManager) ValidateCSRFToken(token string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if expiresAt, exists := sm.csrfTokens[token]; exists {
		if time.Now().Before(expiresAt) {
			return true
		}
		delete(sm.csrfTokens, token)
	}
	return false
}

// RequireAuth middleware ensures the user is authenticated
func (s *Server) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Check for session cookie
		cookie, err := r.Cookie("session")
		if err != nil {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		// Validate session
		session := s.sessions.GetSession(cookie.Value)
		if session == nil {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		// Add user info to context
		ctx := r.Context()
		ctx = context.WithValue(ctx, userIDKey, session.UserID)
		ctx = context.WithValue(ctx, userRoleKey, session.Role)
		next(w, r.WithContext(ctx))
	}
}

// RequireAdmin middleware ensures the user is an admin
func (s *Server) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := r.Context().Value(userRoleKey).(string)
		if role != "admin" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// HandleLogin handles user login
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")

	user, err := s.db.Authenticate(email, password)
	if err != nil {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	// Create session
	token, err := s.sessions.CreateSession(user.ID, user.Role)
	if err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	if err := s.db.UpdateLastLogin(user.ID); err != nil {
		// Login still succeeds; the timestamp is best effort.
		fmt.Printf("WARN: failed to update last login for user %d: %v\n", user.ID, err)
	}

	// Set session cookie
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   86400, // 24 hours
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":         user.ID,
		"role":            user.Role,
		"inbound_address": user.InboundAddress,
		"csrf_token":      s.sessions.GenerateCSRFToken(),
	})
}

// HandleLogout handles user logout
func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	// Clear session cookie
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	// Clear session from memory
	if cookie, err := r.Cookie("session"); err == nil {
		s.sessions.ClearSession(cookie.Value)
	}

	w.WriteHeader(http.StatusNoContent)
}
