package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
)

// OperationPhase says where a stored operation came from.
type OperationPhase string

const (
	// PhaseBatch marks an entry of the submitted batch.
	PhaseBatch OperationPhase = "batch"

	// PhaseApplied marks an operation the executor completed.
	PhaseApplied OperationPhase = "applied"

	// PhaseFailed marks the operation that failed.
	PhaseFailed OperationPhase = "failed"
)

// Pass is the stored summary of one synchronization pass.
type Pass struct {
	ID          string            `json:"id"`
	Mode        engine.PassMode   `json:"mode"`
	Status      engine.PassStatus `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Operations  int               `json:"operations"`
	Excluded    int               `json:"excluded"`
	Unresolved  int               `json:"unresolved"`
	Error       *string           `json:"error,omitempty"`
	Result      string            `json:"-"` // JSON blob
	CreatedAt   time.Time         `json:"created_at"`
}

// PassResult decodes the full result recorded with the pass.
func (p *Pass) PassResult() (*engine.PassResult, error) {
	var result engine.PassResult
	if err := json.Unmarshal([]byte(p.Result), &result); err != nil {
		return nil, fmt.Errorf("failed to decode pass %s: %w", p.ID, err)
	}
	return &result, nil
}

// PassOperation is one operation recorded with a pass.
type PassOperation struct {
	PassID    string          `json:"pass_id"`
	Phase     OperationPhase  `json:"phase"`
	Seq       int             `json:"seq"`
	Operation model.Operation `json:"operation"`
}

// Event is a stored pass event.
type Event struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	PassID    string    `json:"pass_id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Address   *string   `json:"address,omitempty"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a stored copy of the local model.
type Snapshot struct {
	ID        int64           `json:"id"`
	PassID    *string         `json:"pass_id,omitempty"`
	Hash      string          `json:"hash"` // SHA256 of the model JSON
	Model     *model.Resource `json:"model"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "sync.applied", "snapshot.restored"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // pass ID or model path
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the pass history
type Store interface {
	engine.PassRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Pass history
	GetPass(ctx context.Context, id string) (*Pass, error)
	ListPasses(ctx context.Context, limit, offset int) ([]*Pass, error)
	ListPassOperations(ctx context.Context, passID string, phase OperationPhase) ([]*PassOperation, error)
	DeletePassesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Event operations
	AppendEvent(ctx context.Context, event engine.Event) error
	GetEvents(ctx context.Context, passID *string, level *string, limit, offset int) ([]*Event, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, passID string, root *model.Resource) (*Snapshot, error)
	LatestSnapshot(ctx context.Context) (*Snapshot, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
