package stores

import (
	"context"
	"time"
)

// BuildStatus represents the lifecycle state of an image build.
type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// EventLevel represents the severity level of a build event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// BuildRecord is one image build: a single architecture of a single
// configuration. Multi-architecture runs produce one record per
// architecture, all sharing the same configuration digest.
type BuildRecord struct {
	ID           string      `json:"id"`
	ImageRef     string      `json:"image_ref"`
	PHPVersion   string      `json:"php_version"`
	Platform     string      `json:"platform"`
	Architecture string      `json:"architecture"`
	Status       BuildStatus `json:"status"`
	Error        *string     `json:"error,omitempty"`

	// ConfigDigest is the SHA-256 of the validated configuration document,
	// linking the record back to the exact input that produced the image.
	ConfigDigest string `json:"config_digest"`

	// Attempts counts executions including retries.
	Attempts int `json:"attempts"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BuildEvent is an append-only log entry. BuildID is nil for run-level
// events that are not tied to a single build record.
type BuildEvent struct {
	ID        int64      `json:"id"`
	BuildID   *string    `json:"build_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store is the persistence layer for build history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Build records
	CreateBuild(ctx context.Context, build *BuildRecord) error
	GetBuild(ctx context.Context, id string) (*BuildRecord, error)
	UpdateBuildStatus(ctx context.Context, id string, status BuildStatus, errMsg *string) error
	IncrementBuildAttempts(ctx context.Context, id string) error
	ListBuilds(ctx context.Context, limit, offset int) ([]*BuildRecord, error)
	DeleteBuild(ctx context.Context, id string) error

	// Event log
	AppendEvent(ctx context.Context, event *BuildEvent) error
	GetEvents(ctx context.Context, buildID *string, level *EventLevel, limit, offset int) ([]*BuildEvent, error)

	// Retention
	PruneOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
