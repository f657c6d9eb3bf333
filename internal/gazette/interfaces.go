package gazette

import (
	"context"
	"time"
)

// PageFetcher retrieves the raw text of a single page from the source.
type PageFetcher interface {
	Fetch(ctx context.Context, key PageKey) (string, error)
}

// PageLister enumerates the pages published on a date.
type PageLister interface {
	ListPages(ctx context.Context, date time.Time) ([]PageKey, error)
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Severity grades an alert.
type Severity string

// Alert severities.
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a notable operational event that a human may need to act on.
type Alert struct {
	Severity  Severity          `json:"severity"`
	Component string            `json:"component"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	At        time.Time         `json:"at"`
}

// AlertSink receives alerts. It is constructed once at process start and
// injected into the components that raise alerts.
type AlertSink interface {
	Alert(ctx context.Context, alert Alert) error
}
