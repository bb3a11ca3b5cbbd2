package attendance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/config"
)

// SheetSink appends attendance records to a remote spreadsheet service. The
// service exposes an append endpoint and a values endpoint per sheet tab,
// mirroring the usual spreadsheet REST APIs.
type SheetSink struct {
	baseURL   string
	sheetID   string
	sheetName string
	token     string
	client    *http.Client
}

// NewSheetSink creates the remote sink and verifies the sheet tab exists,
// creating it (with a header row) when missing. Missing credentials are a
// construction error so the caller can degrade to the CSV backend.
func NewSheetSink(cfg config.SheetConfig) (*SheetSink, error) {
	if cfg.URL == "" || cfg.SheetID == "" {
		return nil, errors.New("sheet backend requires url and sheet_id")
	}
	if cfg.Token == "" {
		return nil, errors.New("sheet backend requires an API token")
	}

	s := &SheetSink{
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		sheetID:   cfg.SheetID,
		sheetName: cfg.SheetName,
		token:     cfg.Token,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
	if err := s.ensureSheet(); err != nil {
		return nil, fmt.Errorf("verifying sheet: %w", err)
	}
	return s, nil
}

type sheetRows struct {
	Values [][]string `json:"values"`
}

func (s *SheetSink) valuesURL() string {
	return fmt.Sprintf("%s/v1/spreadsheets/%s/values/%s",
		s.baseURL, url.PathEscape(s.sheetID), url.PathEscape(s.sheetName))
}

// ensureSheet checks the tab exists; a 404 creates it and writes the header.
func (s *SheetSink) ensureSheet() error {
	resp, err := s.do(http.MethodGet, s.valuesURL(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return s.appendRows([][]string{header})
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheet service status %d: %s", resp.StatusCode, string(body))
	}
}

func (s *SheetSink) appendRows(rows [][]string) error {
	payload, err := json.Marshal(sheetRows{Values: rows})
	if err != nil {
		return fmt.Errorf("marshaling rows: %w", err)
	}

	resp, err := s.do(http.MethodPost, s.valuesURL()+":append", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("append failed, status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (s *SheetSink) do(method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheet request failed: %w", err)
	}
	return resp, nil
}

// Append writes one record to the sheet.
func (s *SheetSink) Append(rec Record) error {
	return s.appendRows([][]string{{rec.Name, rec.Date, rec.Time, string(rec.Kind)}})
}

// Query fetches all rows and filters them to the inclusive date range and
// optional name.
func (s *SheetSink) Query(start, end time.Time, name string) ([]Record, error) {
	resp, err := s.do(http.MethodGet, s.valuesURL(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("query failed, status %d: %s", resp.StatusCode, string(body))
	}

	var rows sheetRows
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding sheet values: %w", err)
	}

	startDate := start.Format(dateLayout)
	endDate := end.Format(dateLayout)

	var out []Record
	for i, row := range rows.Values {
		if i == 0 || len(row) < 4 {
			continue // header or malformed row
		}
		rec := Record{Name: row[0], Date: row[1], Time: row[2], Kind: Kind(row[3])}
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

// NewSink selects the attendance backend once, at construction. A sheet
// backend that cannot be initialized (missing credentials, unreachable
// service) degrades to the CSV backend instead of failing the system.
func NewSink(cfg config.AttendanceConfig, log *slog.Logger) (Sink, error) {
	if log == nil {
		log = slog.Default()
	}

	if cfg.Backend == "sheet" {
		sink, err := NewSheetSink(cfg.Sheet)
		if err == nil {
			log.Info("attendance backend initialized", "backend", "sheet",
				"sheet_id", cfg.Sheet.SheetID)
			return sink, nil
		}
		log.Warn("sheet backend unavailable, falling back to CSV", "error", err)
	}

	sink, err := NewCSVSink(cfg.LogsDir, cfg.FilePattern)
	if err != nil {
		return nil, err
	}
	log.Info("attendance backend initialized", "backend", "csv", "dir", cfg.LogsDir)
	return sink, nil
}
