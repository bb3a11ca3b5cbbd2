package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSessionCreateAndGet(t *testing.T) {
	sm := NewSessionManager(time.Hour)
	defer sm.Stop()

	session := sm.Create("admin")
	if session.ID == "" {
		t.Fatal("session ID is empty")
	}
	if session.Username != "admin" {
		t.Errorf("Username = %q", session.Username)
	}

	w := httptest.NewRecorder()
	sm.SetCookie(w, session)

	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no cookie set")
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookies[0])

	got := sm.Get(req)
	if got == nil {
		t.Fatal("Get() returned nil for a valid session")
	}
	if got.ID != session.ID {
		t.Errorf("session ID = %s, want %s", got.ID, session.ID)
	}
}

func TestSessionGetMissingCookie(t *testing.T) {
	sm := NewSessionManager(time.Hour)
	defer sm.Stop()

	req := httptest.NewRequest("GET", "/", nil)
	if sm.Get(req) != nil {
		t.Error("Get() should return nil without a cookie")
	}

	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "bogus"})
	if sm.Get(req) != nil {
		t.Error("Get() should return nil for an unknown session ID")
	}
}

func TestSessionExpiry(t *testing.T) {
	sm := NewSessionManager(10 * time.Millisecond)
	defer sm.Stop()

	session := sm.Create("admin")
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session.ID})

	time.Sleep(20 * time.Millisecond)
	if sm.Get(req) != nil {
		t.Error("Get() should return nil for an expired session")
	}
}

func TestSessionDestroy(t *testing.T) {
	sm := NewSessionManager(time.Hour)
	defer sm.Stop()

	session := sm.Create("admin")
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session.ID})

	sm.Destroy(req)
	if sm.Get(req) != nil {
		t.Error("Get() should return nil after Destroy()")
	}
}

func TestRequireAuth(t *testing.T) {
	sm := NewSessionManager(time.Hour)
	defer sm.Stop()

	var gotSession *Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = GetSessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	protected := RequireAuth(sm, true)(next)

	// No session: rejected.
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	// Valid session: passed through with the session in context.
	session := sm.Create("admin")
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session.ID})
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if gotSession == nil || gotSession.Username != "admin" {
		t.Errorf("context session = %+v", gotSession)
	}
}

func TestRequireAuthDisabled(t *testing.T) {
	sm := NewSessionManager(time.Hour)
	defer sm.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	open := RequireAuth(sm, false)(next)

	w := httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when auth is disabled", w.Code)
	}
}

func TestCORSLocalhostAllowed(t *testing.T) {
	handler := CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSUnknownOriginDenied(t *testing.T) {
	handler := CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("preflight status = %d", w.Code)
	}
	if called {
		t.Error("preflight should not reach the next handler")
	}
}
