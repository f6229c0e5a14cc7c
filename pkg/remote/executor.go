// Package remote defines the narrow execution contract between the
// allocation engine and a managed host. Every higher-level component
// (scanner, registry store, provisioner) depends only on Executor and
// never on transport details.
package remote

import (
	"context"
	"time"
)

// Executor runs commands and transfers files on a single managed host.
// Implementations are expected to be safe for sequential use from one
// goroutine; the engine issues all calls sequentially.
type Executor interface {
	// Host returns the host name this executor is bound to.
	Host() string

	// Execute runs a command as the connecting user and returns the
	// captured stdout. A non-zero exit status is returned as an error
	// carrying the captured stderr.
	Execute(ctx context.Context, command string) (stdout string, err error)

	// ExecuteAs runs a command as another principal (sudo -u). An empty
	// principal behaves like Execute.
	ExecuteAs(ctx context.Context, principal, command string) (stdout string, err error)

	// PushFile writes content to a remote path with the given mode,
	// creating parent directories as needed.
	PushFile(ctx context.Context, content []byte, remotePath string, mode uint32) error

	// FetchFile reads a remote file in full. A missing file is reported
	// as an error with IsNotFound(err) == true.
	FetchFile(ctx context.Context, remotePath string) ([]byte, error)

	// Close releases the underlying connection.
	Close() error
}

// ExecResult captures one command execution for run records.
type ExecResult struct {
	Command    string        `json:"command"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ExitCode   int           `json:"exit_code"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}
