package models

import (
	"time"

	"github.com/google/uuid"
)

// Platform is the closed set of targets a spawn can be generated for
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformDesktop Platform = "desktop"
	PlatformCLI     Platform = "cli"
	PlatformAPI     Platform = "api"
)

// Spec represents the structured intent extracted from a free-text prompt.
// A Spec is immutable once extracted; a revision replaces it wholesale.
type Spec struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Platform    Platform `json:"platform" validate:"required,oneof=ios android web desktop cli api"`
	Features    []string `json:"features" validate:"required,min=1,max=20,dive,required"`
	Summary     string   `json:"summary" validate:"required"`
}

// SpawnStatus represents the session state machine position
type SpawnStatus string

const (
	StatusIdle             SpawnStatus = "idle"
	StatusExtractingSpec   SpawnStatus = "extracting-spec"
	StatusAwaitingApproval SpawnStatus = "awaiting-approval"
	StatusBuilding         SpawnStatus = "building"
	StatusComplete         SpawnStatus = "complete"
	StatusFailed           SpawnStatus = "failed"

	// StatusPending is the durable alias for awaiting-approval: a spawn
	// row exists but the user has not approved the spec yet.
	StatusPending SpawnStatus = "pending"
)

// Terminal reports whether the status is a resting state that accepts
// further user input
func (s SpawnStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Snapshot is the structured state pushed to live observers on every
// session mutation. Consumers must tolerate repeated identical snapshots.
type Snapshot struct {
	SpawnID           string            `json:"spawn_id"`
	Spec              *Spec             `json:"spec"`
	Files             map[string]string `json:"files"`
	Status            SpawnStatus       `json:"status"`
	Error             string            `json:"error,omitempty"`
	CompletedFeatures int               `json:"completed_features"`
}

// SpawnRecord is the durable spawn row, queryable after the session
// actor is evicted
type SpawnRecord struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Prompt      string      `json:"prompt" db:"prompt"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`
	Platform    string      `json:"platform" db:"platform"`
	Features    []string    `json:"features" db:"features"`
	Summary     string      `json:"summary" db:"summary"`
	Status      SpawnStatus `json:"status" db:"status"`
	Error       *string     `json:"error,omitempty" db:"error"`
	BuildLog    *string     `json:"build_log,omitempty" db:"build_log"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// GeneratedFile is a durable per-file row keyed by (spawn_id, path)
type GeneratedFile struct {
	SpawnID   uuid.UUID `json:"spawn_id" db:"spawn_id"`
	Path      string    `json:"path" db:"path"`
	Content   string    `json:"content" db:"content"`
	Language  string    `json:"language" db:"language"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Manifest is the write-once project summary stored alongside generated
// files for out-of-band inspection. Rewritten wholesale on every
// successful build or feedback cycle.
type Manifest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Platform    string    `json:"platform"`
	Files       []string  `json:"files"`
	GeneratedAt time.Time `json:"generated_at"`
}
