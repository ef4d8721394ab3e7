package media

import (
	"fmt"
	"time"
)

type OperationType string

const (
	OperationManual    OperationType = "manual"
	OperationScheduled OperationType = "scheduled"
)

type OperationStatus string

const (
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// CleanupOperation is the audit row written once per cleanup invocation.
type CleanupOperation struct {
	ID             string          `json:"id"`
	OperationType  OperationType   `json:"operationType"`
	Status         OperationStatus `json:"status"`
	DryRun         bool            `json:"dryRun"`
	FilesProcessed int             `json:"filesProcessed"`
	FilesDeleted   int             `json:"filesDeleted"`
	FilesFailed    int             `json:"filesFailed"`
	SpaceFreed     int64           `json:"spaceFreed"`
	StartedAt      time.Time       `json:"startedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
}

// Finish moves a running operation to its terminal status. It fails if the
// operation already left the running state.
func (op *CleanupOperation) Finish(at time.Time, runErr error) error {
	if op.Status != OperationRunning {
		return fmt.Errorf("cleanup operation %s already %s", op.ID, op.Status)
	}

	op.CompletedAt = &at
	if runErr != nil {
		op.Status = OperationFailed
		op.ErrorMessage = runErr.Error()
		return nil
	}

	op.Status = OperationCompleted
	return nil
}

// Verification is the per-object result of the authoritative orphan check.
type Verification struct {
	ObjectID       string   `json:"objectId"`
	AssetID        string   `json:"assetId,omitempty"`
	IsOrphaned     bool     `json:"isOrphaned"`
	SafeToDelete   bool     `json:"safeToDelete"`
	ReferenceCount int      `json:"referenceCount"`
	ByteSize       int64    `json:"byteSize"`
	InDatabase     bool     `json:"inDatabase"`
	RemoteMissing  bool     `json:"remoteMissing"`
	Warnings       []string `json:"warnings"`
}

// CleanupItemError records why one candidate was not deleted.
type CleanupItemError struct {
	ObjectID    string    `json:"objectId"`
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
}

// CleanupResult summarises a cleanup batch.
type CleanupResult struct {
	OperationID string             `json:"operationId"`
	Processed   int                `json:"processed"`
	Deleted     int                `json:"deleted"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
	Errors      []CleanupItemError `json:"errors"`
	FreedSpace  int64              `json:"freedSpace"`
	DryRun      bool               `json:"dryRun"`
}

type OrphanStatistics struct {
	TotalOrphans    int        `json:"totalOrphans"`
	TotalOrphanSize int64      `json:"totalOrphanSize"`
	OldestOrphan    *time.Time `json:"oldestOrphan,omitempty"`
	NewestOrphan    *time.Time `json:"newestOrphan,omitempty"`
}

type CleanupPreview struct {
	Orphans             []*Asset       `json:"orphans"`
	Verifications       []Verification `json:"verifications"`
	EstimatedSpaceFreed int64          `json:"estimatedSpaceFreed"`
	SafeToDeleteCount   int            `json:"safeToDeleteCount"`
}
