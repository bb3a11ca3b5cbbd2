package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/newaysecurity/cctv-clocking/internal/attendance"
	"github.com/newaysecurity/cctv-clocking/internal/config"
	"github.com/newaysecurity/cctv-clocking/internal/facedb"
	"github.com/newaysecurity/cctv-clocking/internal/vision"
	"github.com/newaysecurity/cctv-clocking/internal/web/middleware"
)

// memSink is an in-memory attendance sink.
type memSink struct {
	records []attendance.Record
}

func (m *memSink) Append(rec attendance.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memSink) Query(start, end time.Time, name string) ([]attendance.Record, error) {
	startDate := start.Format("2006-01-02")
	endDate := end.Format("2006-01-02")
	var out []attendance.Record
	for _, rec := range m.records {
		if rec.Date < startDate || rec.Date > endDate {
			continue
		}
		if name != "" && rec.Name != name {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

type stubEngine struct{}

func (stubEngine) Detect(ctx context.Context, img image.Image) ([]vision.Box, error) {
	return []vision.Box{{Top: 0, Right: 16, Bottom: 16, Left: 0}}, nil
}

func (stubEngine) Embed(ctx context.Context, img image.Image, boxes []vision.Box) ([][]float32, error) {
	out := make([][]float32, len(boxes))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest("GET", "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	var body map[string]string
	decodeJSON(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("line1\nline2\rline3"); got != "line1line2line3" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func authConfig(enabled bool) *config.Config {
	cfg := config.Default()
	cfg.Dashboard.EnableAuth = enabled
	cfg.Dashboard.Username = "admin"
	cfg.Dashboard.Password = "hunter2"
	return cfg
}

func TestLogin(t *testing.T) {
	sm := middleware.NewSessionManager(time.Hour)
	defer sm.Stop()
	h := NewAuthHandler(authConfig(true), sm)

	body := `{"username": "admin", "password": "hunter2"}`
	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp LoginResponse
	decodeJSON(t, w, &resp)
	if !resp.Success || resp.SessionID == "" {
		t.Errorf("response = %+v", resp)
	}

	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Error("login did not set a session cookie")
	}
}

func TestLoginBadCredentials(t *testing.T) {
	sm := middleware.NewSessionManager(time.Hour)
	defer sm.Stop()
	h := NewAuthHandler(authConfig(true), sm)

	body := `{"username": "admin", "password": "wrong"}`
	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(body)))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestLoginMissingFields(t *testing.T) {
	sm := middleware.NewSessionManager(time.Hour)
	defer sm.Stop()
	h := NewAuthHandler(authConfig(true), sm)

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(`{"username": "admin"}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	h.Login(w, httptest.NewRequest("POST", "/api/auth/login", strings.NewReader("not json")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAuthStatusWithAuthDisabled(t *testing.T) {
	sm := middleware.NewSessionManager(time.Hour)
	defer sm.Stop()
	h := NewAuthHandler(authConfig(false), sm)

	w := httptest.NewRecorder()
	h.Status(w, httptest.NewRequest("GET", "/api/auth/status", nil))

	var resp StatusResponse
	decodeJSON(t, w, &resp)
	if !resp.Authenticated {
		t.Error("auth disabled should report authenticated")
	}
}

func newLogsHandler(records []attendance.Record) *LogsHandler {
	gate := attendance.NewGate(&memSink{records: records}, time.Hour, nil)
	return NewLogsHandler(gate)
}

func TestLogs(t *testing.T) {
	h := newLogsHandler([]attendance.Record{
		{Name: "alice", Date: "2026-03-02", Time: "07:45:00", Kind: attendance.ClockIn},
		{Name: "bob", Date: "2026-03-03", Time: "08:00:00", Kind: attendance.ClockIn},
	})

	w := httptest.NewRecorder()
	h.Logs(w, httptest.NewRequest("GET", "/api/logs?start_date=2026-03-01&end_date=2026-03-31", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count   int                 `json:"count"`
		Records []attendance.Record `json:"records"`
	}
	decodeJSON(t, w, &resp)
	if resp.Count != 2 || len(resp.Records) != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestLogsNameFilter(t *testing.T) {
	h := newLogsHandler([]attendance.Record{
		{Name: "alice", Date: "2026-03-02", Time: "07:45:00", Kind: attendance.ClockIn},
		{Name: "bob", Date: "2026-03-02", Time: "08:00:00", Kind: attendance.ClockIn},
	})

	w := httptest.NewRecorder()
	h.Logs(w, httptest.NewRequest("GET", "/api/logs?start_date=2026-03-01&end_date=2026-03-31&name=bob", nil))

	var resp struct {
		Count   int                 `json:"count"`
		Records []attendance.Record `json:"records"`
	}
	decodeJSON(t, w, &resp)
	if resp.Count != 1 || resp.Records[0].Name != "bob" {
		t.Errorf("response = %+v", resp)
	}
}

func TestLogsInvalidDates(t *testing.T) {
	h := newLogsHandler(nil)

	w := httptest.NewRecorder()
	h.Logs(w, httptest.NewRequest("GET", "/api/logs?start_date=yesterday", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	h.Logs(w, httptest.NewRequest("GET", "/api/logs?start_date=2026-03-10&end_date=2026-03-01", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for inverted range", w.Code)
	}
}

func TestDailySummary(t *testing.T) {
	h := newLogsHandler([]attendance.Record{
		{Name: "alice", Date: "2026-03-02", Time: "07:45:00", Kind: attendance.ClockIn},
		{Name: "alice", Date: "2026-03-02", Time: "17:00:00", Kind: attendance.ClockOut},
	})

	w := httptest.NewRecorder()
	h.DailySummary(w, httptest.NewRequest("GET", "/api/daily_summary?date=2026-03-02", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Date      string               `json:"date"`
		Summaries []attendance.Summary `json:"summaries"`
	}
	decodeJSON(t, w, &resp)
	if resp.Date != "2026-03-02" || len(resp.Summaries) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Summaries[0].FirstIn != "07:45:00" || resp.Summaries[0].LastOut != "17:00:00" {
		t.Errorf("summary = %+v", resp.Summaries[0])
	}
}

func newEmployeesHandler(t *testing.T) (*EmployeesHandler, *facedb.Database) {
	t.Helper()
	db, err := facedb.New(t.TempDir(), stubEngine{}, nil)
	if err != nil {
		t.Fatalf("facedb.New() error = %v", err)
	}
	return NewEmployeesHandler(db, nil), db
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, name string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("name", name); err != nil {
		t.Fatalf("writing name field: %v", err)
	}
	for filename, data := range files {
		part, err := writer.CreateFormFile("images", filename)
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		part.Write(data)
	}
	writer.Close()

	req := httptest.NewRequest("POST", "/api/employees", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestEmployeesCreateAndList(t *testing.T) {
	h, db := newEmployeesHandler(t)

	w := httptest.NewRecorder()
	h.Create(w, uploadRequest(t, "Jane Doe", map[string][]byte{"face.png": pngBytes(t)}))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// The photo landed in the employee directory and the store reloaded.
	if _, err := os.Stat(filepath.Join(db.Dir(), "Jane Doe", "upload_01.png")); err != nil {
		t.Errorf("uploaded photo missing: %v", err)
	}
	if db.Count() != 1 {
		t.Errorf("Count() = %d, want 1", db.Count())
	}

	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest("GET", "/api/employees", nil))
	var resp struct {
		Count     int           `json:"count"`
		Employees []facedb.Info `json:"employees"`
	}
	decodeJSON(t, w, &resp)
	if resp.Count != 1 || resp.Employees[0].Name != "Jane Doe" {
		t.Errorf("response = %+v", resp)
	}
}

func TestEmployeesCreateRejectsBadUploads(t *testing.T) {
	h, _ := newEmployeesHandler(t)

	// No images at all.
	w := httptest.NewRecorder()
	h.Create(w, uploadRequest(t, "Jane", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without images", w.Code)
	}

	// Only files with unsupported extensions.
	w = httptest.NewRecorder()
	h.Create(w, uploadRequest(t, "Jane", map[string][]byte{"notes.txt": []byte("x")}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unsupported files", w.Code)
	}

	// Empty name.
	w = httptest.NewRecorder()
	h.Create(w, uploadRequest(t, "  ", map[string][]byte{"face.png": pngBytes(t)}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for empty name", w.Code)
	}
}

func TestEmployeesDelete(t *testing.T) {
	h, db := newEmployeesHandler(t)

	w := httptest.NewRecorder()
	h.Create(w, uploadRequest(t, "Jane", map[string][]byte{"face.png": pngBytes(t)}))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	req := httptest.NewRequest("DELETE", "/api/employees/Jane", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", "Jane")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	w = httptest.NewRecorder()
	h.Delete(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", w.Code, w.Body.String())
	}

	if db.Count() != 0 {
		t.Errorf("Count() = %d after delete, want 0", db.Count())
	}
	if _, err := os.Stat(filepath.Join(db.Dir(), "Jane")); !os.IsNotExist(err) {
		t.Error("employee directory still exists after delete")
	}
}

func photoRequest(name, file string) *http.Request {
	req := httptest.NewRequest("GET", "/faces/"+name+"/"+file, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", name)
	rctx.URLParams.Add("file", file)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestEmployeePhotoServed(t *testing.T) {
	h, _ := newEmployeesHandler(t)

	w := httptest.NewRecorder()
	h.Create(w, uploadRequest(t, "Jane", map[string][]byte{"face.png": pngBytes(t)}))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Photo(w, photoRequest("Jane", "upload_01.png"))
	if w.Code != http.StatusOK {
		t.Fatalf("photo status = %d, body %s", w.Code, w.Body.String())
	}
	if got := w.Body.Bytes(); len(got) == 0 || !bytes.Equal(got, pngBytes(t)) {
		t.Error("served photo does not match the uploaded file")
	}
}

func TestEmployeePhotoRejectsTraversal(t *testing.T) {
	h, db := newEmployeesHandler(t)

	// A file outside the faces directory must stay unreachable.
	secret := filepath.Join(filepath.Dir(db.Dir()), "secret.txt")
	os.WriteFile(secret, []byte("hidden"), 0o644)

	for _, tc := range []struct{ name, file string }{
		{"../..", "secret.txt"},
		{"Jane", "../../secret.txt"},
		{"Ghost", "nope.png"},
	} {
		w := httptest.NewRecorder()
		h.Photo(w, photoRequest(tc.name, tc.file))
		if w.Code == http.StatusOK {
			t.Errorf("Photo(%q, %q) status = 200, want an error", tc.name, tc.file)
		}
	}
}

func TestEmployeesDeleteMissing(t *testing.T) {
	h, _ := newEmployeesHandler(t)

	req := httptest.NewRequest("DELETE", "/api/employees/Ghost", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", "Ghost")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	h.Delete(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Jane Doe", "Jane Doe"},
		{"../../etc/passwd", "etcpasswd"},
		{"  spaced  ", "spaced"},
		{"semi;colon", "semicolon"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
