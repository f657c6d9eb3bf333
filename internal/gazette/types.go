package gazette

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// PageKey identifies a single page of a published gazette edition.
type PageKey struct {
	VolumeID   string `json:"volume_id"`
	IssueID    string `json:"issue_id"`
	NotebookID string `json:"notebook_id"`
	PageNumber int    `json:"page_number"`
}

// Previous returns the key of the page immediately before k. The second value
// is false for the first page of a notebook.
func (k PageKey) Previous() (PageKey, bool) {
	if k.PageNumber <= 1 {
		return PageKey{}, false
	}
	prev := k
	prev.PageNumber--
	return prev, true
}

// String renders the key as volume/issue/notebook/page.
func (k PageKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.VolumeID, k.IssueID, k.NotebookID, k.PageNumber)
}

// CachedPage is an immutable page body held by a page cache.
type CachedPage struct {
	Key       PageKey
	Content   string
	FetchedAt time.Time
}

// RecordAnchor marks where a record begins within page text.
type RecordAnchor struct {
	RecordID    string
	StartOffset int
}

// StitchResult is produced by each stitching attempt.
type StitchResult struct {
	MergedContent string
	QualityScore  float64
	SpansPages    bool
	// Reason explains why a merge was skipped or rejected; empty on success.
	Reason string
}

// ItemStatus is the lifecycle state of a queue item.
type ItemStatus string

// Queue item states.
const (
	StatusPending      ItemStatus = "pending"
	StatusProcessing   ItemStatus = "processing"
	StatusDelivered    ItemStatus = "delivered"
	StatusDeadLettered ItemStatus = "dead_lettered"
)

// QueueItem is the durable pointer to an extracted record file.
type QueueItem struct {
	FilePath      string     `json:"filePath"`
	FileName      string     `json:"fileName"`
	DetectedAt    time.Time  `json:"detectedAt"`
	Size          int64      `json:"size"`
	Status        ItemStatus `json:"status"`
	RetryCount    int        `json:"retryCount"`
	LastError     string     `json:"lastError,omitempty"`
	LastErrorCode int        `json:"lastErrorCode,omitempty"`
}

// Validate checks the fields every queue item must carry.
func (q QueueItem) Validate() error {
	if strings.TrimSpace(q.FilePath) == "" {
		return errors.New("filePath is required")
	}
	if strings.TrimSpace(q.FileName) == "" {
		return errors.New("fileName is required")
	}
	if q.RetryCount < 0 {
		return errors.New("retryCount must be >= 0")
	}
	switch q.Status {
	case StatusPending, StatusProcessing, StatusDelivered, StatusDeadLettered:
	default:
		return fmt.Errorf("unknown status %q", q.Status)
	}
	return nil
}

// RecordSource points back at the page a record was extracted from.
type RecordSource struct {
	VolumeID   string `json:"volume_id"`
	IssueID    string `json:"issue_id"`
	NotebookID string `json:"notebook_id"`
	PageNumber int    `json:"page_number"`
}

// Record is an extracted gazette record as written to the output directory.
type Record struct {
	RecordID     string       `json:"record_id"`
	Date         string       `json:"date"`
	Narrative    string       `json:"narrative"`
	Parties      []string     `json:"parties"`
	Counsel      []string     `json:"counsel,omitempty"`
	Amount       string       `json:"amount,omitempty"`
	Source       RecordSource `json:"source"`
	Stitched     bool         `json:"stitched"`
	QualityScore float64      `json:"quality_score"`
	ContentHash  string       `json:"content_hash,omitempty"`
	ExtractedAt  time.Time    `json:"extracted_at"`
}

// DecodeQueueItem strictly decodes a wire queue item.
func DecodeQueueItem(data []byte) (QueueItem, error) {
	var item QueueItem
	if err := decodeStrict(data, &item); err != nil {
		return QueueItem{}, fmt.Errorf("decode queue item: %w", err)
	}
	if err := item.Validate(); err != nil {
		return QueueItem{}, fmt.Errorf("decode queue item: %w", err)
	}
	return item, nil
}

// EncodeQueueItem renders a queue item in its wire form.
func EncodeQueueItem(item QueueItem) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode queue item: %w", err)
	}
	return data, nil
}

// DecodeRecord strictly decodes a record file. Unknown fields, trailing data,
// and truncated documents are rejected; field-level business validation is
// left to the delivery worker.
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := decodeStrict(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected trailing data")
	}
	return nil
}
