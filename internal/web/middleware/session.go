package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionCookieName = "cctv_clocking_session"

// Session represents one logged-in dashboard user.
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionManager handles session creation and validation. Sessions live in
// memory; the dashboard is a single-process system.
type SessionManager struct {
	timeout  time.Duration
	mu       sync.RWMutex
	sessions map[string]*Session
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a manager with the given idle timeout.
func NewSessionManager(timeout time.Duration) *SessionManager {
	sm := &SessionManager{
		timeout:  timeout,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	go sm.cleanupLoop()
	return sm
}

// Stop terminates the background cleanup goroutine.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stopCh) })
}

// Create starts a session for the user and returns it.
func (sm *SessionManager) Create(username string) *Session {
	now := time.Now()
	session := &Session{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.timeout),
	}
	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()
	return session
}

// Get returns the session for the request cookie, refreshing its expiry.
// A missing or expired session returns nil.
func (sm *SessionManager) Get(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[cookie.Value]
	if !ok {
		return nil
	}
	if time.Now().After(session.ExpiresAt) {
		delete(sm.sessions, session.ID)
		return nil
	}
	session.ExpiresAt = time.Now().Add(sm.timeout)
	return session
}

// Destroy removes the request's session, if any.
func (sm *SessionManager) Destroy(r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return
	}
	sm.mu.Lock()
	delete(sm.sessions, cookie.Value)
	sm.mu.Unlock()
}

// SetCookie attaches the session cookie to the response.
func (sm *SessionManager) SetCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
}

// ClearCookie expires the session cookie.
func (sm *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// cleanupLoop drops expired sessions periodically.
func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			sm.mu.Lock()
			for id, session := range sm.sessions {
				if now.After(session.ExpiresAt) {
					delete(sm.sessions, id)
				}
			}
			sm.mu.Unlock()
		}
	}
}
