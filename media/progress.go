package media

import "time"

type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusUploading  UploadStatus = "uploading"
	StatusProcessing UploadStatus = "processing"
	StatusCompleted  UploadStatus = "completed"
	StatusFailed     UploadStatus = "failed"
	StatusCancelled  UploadStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Cancellable reports whether CancelUpload still has an effect.
func (s UploadStatus) Cancellable() bool {
	return s == StatusPending || s == StatusUploading
}

// UploadProgress is the transient state of a single in-flight upload.
type UploadProgress struct {
	UploadID      string       `json:"uploadId"`
	Filename      string       `json:"filename"`
	Status        UploadStatus `json:"status"`
	BytesUploaded int64        `json:"bytesUploaded"`
	TotalBytes    int64        `json:"totalBytes"`
	Error         string       `json:"error,omitempty"`
	StartTime     time.Time    `json:"startTime"`
	EndTime       *time.Time   `json:"endTime,omitempty"`
}
