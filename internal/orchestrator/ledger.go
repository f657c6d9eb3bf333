package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// WorkerStatus is the lifecycle state of an orchestrator worker.
type WorkerStatus string

// Worker states.
const (
	WorkerIdle      WorkerStatus = "idle"
	WorkerWorking   WorkerStatus = "working"
	WorkerCompleted WorkerStatus = "completed"
	WorkerError     WorkerStatus = "error"
)

// TimeoutError is the error text recorded for a date that ran out of time.
const TimeoutError = "Timeout"

// DateStatus is the ledger entry for one date.
type DateStatus struct {
	Date         gazette.Date `json:"date"`
	Processed    bool         `json:"processed"`
	WorkerID     string       `json:"workerId,omitempty"`
	StartTime    *time.Time   `json:"startTime,omitempty"`
	EndTime      *time.Time   `json:"endTime,omitempty"`
	RecordsFound int          `json:"recordsFound"`
	Error        string       `json:"error,omitempty"`
	RetryCount   int          `json:"retryCount"`
}

// Pending reports whether the date still needs work.
func (s DateStatus) Pending() bool {
	return !s.Processed || s.Error != ""
}

// WorkerProgress is the ledger entry for one worker.
type WorkerProgress struct {
	WorkerID       string       `json:"workerId"`
	CurrentDate    string       `json:"currentDate,omitempty"`
	DatesProcessed int          `json:"datesProcessed"`
	TotalRecords   int          `json:"totalRecords"`
	Status         WorkerStatus `json:"status"`
}

// Metadata summarizes the ledger.
type Metadata struct {
	StartDate      gazette.Date `json:"startDate"`
	EndDate        gazette.Date `json:"endDate"`
	WorkerCount    int          `json:"workerCount"`
	LastUpdated    time.Time    `json:"lastUpdated"`
	TotalDates     int          `json:"totalDates"`
	ProcessedDates int          `json:"processedDates"`
	TotalRecords   int          `json:"totalRecords"`
}

// Ledger is the persisted progress of a date-range run. Dates are keyed by
// DD/MM/YYYY.
type Ledger struct {
	Metadata Metadata                   `json:"metadata"`
	Dates    map[string]*DateStatus     `json:"dates"`
	Workers  map[string]*WorkerProgress `json:"workers"`
}

// NewLedger creates an entry for every date from start to end.
func NewLedger(start, end gazette.Date, workers int) *Ledger {
	l := &Ledger{
		Metadata: Metadata{StartDate: start, EndDate: end, WorkerCount: workers},
		Dates:    make(map[string]*DateStatus),
		Workers:  make(map[string]*WorkerProgress),
	}
	l.Extend(start, end)
	return l
}

// Extend adds entries for dates in range that the ledger lacks and widens
// the recorded range.
func (l *Ledger) Extend(start, end gazette.Date) {
	if l.Dates == nil {
		l.Dates = make(map[string]*DateStatus)
	}
	if l.Workers == nil {
		l.Workers = make(map[string]*WorkerProgress)
	}
	for _, d := range gazette.DatesBetween(start, end) {
		if _, ok := l.Dates[d.String()]; !ok {
			l.Dates[d.String()] = &DateStatus{Date: d}
		}
	}
	if l.Metadata.StartDate.IsZero() || start.Before(l.Metadata.StartDate) {
		l.Metadata.StartDate = start
	}
	if l.Metadata.EndDate.IsZero() || end.After(l.Metadata.EndDate) {
		l.Metadata.EndDate = end
	}
	l.Recount()
}

// PendingDates returns unprocessed or failed dates, oldest first.
func (l *Ledger) PendingDates() []gazette.Date {
	var out []gazette.Date
	for _, s := range l.Dates {
		if s.Pending() {
			out = append(out, s.Date)
		}
	}
	slices.SortFunc(out, func(a, b gazette.Date) int {
		return a.Time().Compare(b.Time())
	})
	return out
}

// Recount refreshes the metadata totals from the entries.
func (l *Ledger) Recount() {
	l.Metadata.TotalDates = len(l.Dates)
	processed, records := 0, 0
	for _, s := range l.Dates {
		if s.Processed && s.Error == "" {
			processed++
		}
		records += s.RecordsFound
	}
	l.Metadata.ProcessedDates = processed
	l.Metadata.TotalRecords = records
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		Metadata: l.Metadata,
		Dates:    make(map[string]*DateStatus, len(l.Dates)),
		Workers:  make(map[string]*WorkerProgress, len(l.Workers)),
	}
	for k, v := range l.Dates {
		c := *v
		if v.StartTime != nil {
			t := *v.StartTime
			c.StartTime = &t
		}
		if v.EndTime != nil {
			t := *v.EndTime
			c.EndTime = &t
		}
		out.Dates[k] = &c
	}
	for k, v := range l.Workers {
		c := *v
		out.Workers[k] = &c
	}
	return out
}

// Store persists a Ledger as a JSON file next to a .bak backup.
type Store struct {
	path string
}

// NewStore returns a Store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the ledger file location.
func (s *Store) Path() string { return s.path }

func (s *Store) backupPath() string { return s.path + ".bak" }

// Load reads the ledger, falling back to the backup when the primary file
// is missing or unreadable. ok is false when neither exists.
func (s *Store) Load() (*Ledger, bool, error) {
	l, err := readLedger(s.path)
	if err == nil {
		return l, true, nil
	}
	primaryErr := err
	l, err = readLedger(s.backupPath())
	if err == nil {
		return l, true, nil
	}
	if errors.Is(primaryErr, os.ErrNotExist) && errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("load ledger %s: %w", s.path, primaryErr)
}

// Save writes l. The current file is kept as .bak until the new one is in
// place; a failed write restores it.
func (s *Store) Save(l *Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	hadPrimary := false
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.backupPath()); err != nil {
			return fmt.Errorf("back up ledger: %w", err)
		}
		hadPrimary = true
	}

	if err := writeFile(s.path, data); err != nil {
		if hadPrimary {
			if rerr := os.Rename(s.backupPath(), s.path); rerr != nil {
				return fmt.Errorf("write ledger: %w (restore backup: %v)", err, rerr)
			}
		}
		return fmt.Errorf("write ledger: %w", err)
	}
	if hadPrimary {
		if err := os.Remove(s.backupPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove ledger backup: %w", err)
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func readLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var l Ledger
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: unexpected trailing data", path)
	}
	for key, s := range l.Dates {
		if s == nil {
			return nil, fmt.Errorf("decode %s: empty entry for %s", path, key)
		}
		if s.Date.IsZero() {
			d, err := gazette.ParseDate(key)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
			s.Date = d
		}
	}
	if l.Workers == nil {
		l.Workers = make(map[string]*WorkerProgress)
	}
	return &l, nil
}
