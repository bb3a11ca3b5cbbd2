package attendance

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CSVSink appends attendance records to one CSV file per month. Each file
// starts with the standard header row.
type CSVSink struct {
	dir     string
	pattern string // time layout for the per-month filename, e.g. "2006-01.csv"
}

// NewCSVSink creates a sink writing dated files under dir. The directory is
// created if missing.
func NewCSVSink(dir, pattern string) (*CSVSink, error) {
	if pattern == "" {
		pattern = "2006-01.csv"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs directory: %w", err)
	}
	return &CSVSink{dir: dir, pattern: pattern}, nil
}

func (s *CSVSink) filename(t time.Time) string {
	return filepath.Join(s.dir, t.Format(s.pattern))
}

// Append writes one record to the current month's file, creating it with a
// header row when needed.
func (s *CSVSink) Append(rec Record) error {
	at, err := time.Parse(dateLayout, rec.Date)
	if err != nil {
		return fmt.Errorf("invalid record date %q: %w", rec.Date, err)
	}
	path := s.filename(at)

	_, statErr := os.Stat(path)
	newFile := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if newFile {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	if err := w.Write([]string{rec.Name, rec.Date, rec.Time, string(rec.Kind)}); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Query reads every monthly file overlapping the inclusive date range and
// returns matching records.
func (s *CSVSink) Query(start, end time.Time, name string) ([]Record, error) {
	startDate := start.Format(dateLayout)
	endDate := end.Format(dateLayout)

	var out []Record
	for _, path := range s.monthFiles(start, end) {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}

		rows, err := csv.NewReader(f).ReadAll()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for i, row := range rows {
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
	}
	return out, nil
}

// monthFiles lists the per-month file paths covering the range.
func (s *CSVSink) monthFiles(start, end time.Time) []string {
	var paths []string
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, end.Location())
	for !cur.After(last) {
		paths = append(paths, s.filename(cur))
		cur = cur.AddDate(0, 1, 0)
	}
	return paths
}
