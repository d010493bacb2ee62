package store

import (
	"context"

	"github.com/rendis/mtaflow/internal/process"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Processes
	CreateProcess(ctx context.Context, p *Process) error
	GetProcess(ctx context.Context, id string) (*Process, error)
	UpdateProcess(ctx context.Context, id string, update ProcessUpdate) error
	ListProcesses(ctx context.Context, filter ProcessFilter) ([]*Process, error)

	// Execution context variables
	GetVariable(ctx context.Context, processID, name string) ([]byte, error)
	SetVariable(ctx context.Context, processID, name string, value []byte) error
	DeleteVariable(ctx context.Context, processID, name string) error
	ListVariableNames(ctx context.Context, processID string) ([]string, error)

	// Diagnostics (process extensions)
	AddOrUpdate(ctx context.Context, processID, key, value string) error
	GetDiagnostics(ctx context.Context, processID string) (map[string]string, error)

	// Progress messages
	AddProgressMessage(ctx context.Context, msg process.ProgressMessage) error
	ListProgressMessages(ctx context.Context, processID string, afterID int64) ([]ProgressRecord, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, processID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ProgressRecord is a stored progress message with its row ID.
type ProgressRecord struct {
	ID int64 `json:"id"`
	process.ProgressMessage
}
