// Package ledger keeps local bookkeeping for the allocation engine: a
// used-ports ledger and provisioning run history, stored in SQLite next
// to the operator's other state. The ledger is deliberately separate
// from the registry's project records; the drift detector compares the
// two.
package ledger

import "time"

// PortRecord is one ledger row: a port handed out by the allocator.
type PortRecord struct {
	ID          string     `json:"id"`
	Host        string     `json:"host"`
	Project     string     `json:"project"`
	Environment string     `json:"environment"`
	Kind        string     `json:"kind"`
	Port        int        `json:"port"`
	AllocatedAt time.Time  `json:"allocated_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

// RunStatus is the overall outcome of a provisioning run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one provisioning invocation's record.
type Run struct {
	ID         string     `json:"id"`
	Host       string     `json:"host"`
	Project    string     `json:"project"`
	Status     RunStatus  `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
