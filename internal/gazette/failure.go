package gazette

import "time"

// FailureRecord is the diagnostic entry written for every dead-lettered item.
type FailureRecord struct {
	ID                   string    `json:"id"`
	FileName             string    `json:"fileName"`
	FilePath             string    `json:"filePath"`
	RecordID             string    `json:"recordId,omitempty"`
	WorkerID             string    `json:"workerId"`
	DetectedAt           time.Time `json:"detectedAt"`
	FailedAt             time.Time `json:"failedAt"`
	ProcessingDurationMS int64     `json:"processingDurationMs"`
	TotalDurationMS      int64     `json:"totalDurationMs"`
	RetryCount           int       `json:"retryCount"`
	ErrorClass           string    `json:"errorClass"`
	ErrorCode            int       `json:"errorCode,omitempty"`
	ErrorMessage         string    `json:"errorMessage"`
	ArchiveURI           string    `json:"archiveUri,omitempty"`
}
