package envfile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/remote"
)

// Writer pushes merged env files to their remote path and an optional
// backup mirror.
type Writer struct {
	exec       remote.Executor
	backupRoot string
}

// NewWriter creates a writer. backupRoot may be empty to disable
// mirroring.
func NewWriter(exec remote.Executor, backupRoot string) *Writer {
	return &Writer{exec: exec, backupRoot: backupRoot}
}

// Push merges the draft with whatever already exists at remotePath and
// writes the result back, mirroring to the backup location when
// configured. The merge policy guarantees protected keys survive.
func (w *Writer) Push(ctx context.Context, draft []byte, remotePath, project string) error {
	content := draft
	existing, err := w.exec.FetchFile(ctx, remotePath)
	switch {
	case err == nil:
		content = Merge(existing, draft)
		log.Debug().Str("path", remotePath).Msg("merged draft into existing env file")
	case remote.IsNotFound(err):
		// First write for this project/environment.
	default:
		return fmt.Errorf("failed to read existing env file: %w", err)
	}

	if err := w.exec.PushFile(ctx, content, remotePath, 0o600); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}

	if w.backupRoot != "" {
		backupPath := fmt.Sprintf("%s/%s.env", w.backupRoot, project)
		if err := w.exec.PushFile(ctx, content, backupPath, 0o600); err != nil {
			// The primary write already landed; a failed mirror is a
			// warning, not a failure.
			log.Warn().Err(err).Str("path", backupPath).Msg("failed to mirror env file to backup location")
		}
	}

	log.Info().
		Str("host", w.exec.Host()).
		Str("path", remotePath).
		Int("keys", len(Keys(content))).
		Msg("env file pushed")

	return nil
}
