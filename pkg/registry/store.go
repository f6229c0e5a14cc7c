package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/remote"
)

// DefaultPath is where the registry document lives on a managed host.
const DefaultPath = "/etc/berth/registry.json"

// StaleWriteError is returned by Save when another writer updated the
// registry after this process loaded it. The caller should reload and
// retry.
type StaleWriteError struct {
	Baseline int64
	Current  int64
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("registry: stale write rejected (baseline version %d, current version %d)", e.Baseline, e.Current)
}

// Store reads and writes the registry document on one managed host.
// Save is a whole-document replace guarded by an optimistic version
// stamp, never a partial patch.
type Store struct {
	exec     remote.Executor
	path     string
	validate *validator.Validate
}

// NewStore creates a store bound to an executor. An empty path uses
// DefaultPath.
func NewStore(exec remote.Executor, path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{
		exec:     exec,
		path:     path,
		validate: validator.New(),
	}
}

// Path returns the remote registry document path.
func (s *Store) Path() string {
	return s.path
}

// Load fetches and parses the registry document. A missing, unreadable,
// or structurally invalid document degrades to the documented default
// with a warning; the engine never fails an invocation because the
// registry is absent.
func (s *Store) Load(ctx context.Context) (*Registry, error) {
	content, err := s.exec.FetchFile(ctx, s.path)
	if err != nil {
		if remote.IsNotFound(err) {
			log.Info().
				Str("host", s.exec.Host()).
				Str("path", s.path).
				Msg("no registry document found, starting from default")
			return NewDefault(), nil
		}
		if remote.IsTemporary(err) {
			// An unreachable host is fatal for the invocation; nothing
			// downstream can be trusted without the real document.
			return nil, fmt.Errorf("failed to fetch registry: %w", err)
		}
		log.Warn().
			Err(err).
			Str("path", s.path).
			Msg("registry document unreadable, falling back to default")
		return NewDefault(), nil
	}

	var reg Registry
	if err := json.Unmarshal(content, &reg); err != nil {
		log.Warn().
			Err(err).
			Str("path", s.path).
			Msg("registry document corrupt, falling back to default")
		return NewDefault(), nil
	}

	if err := s.validate.Struct(&reg); err != nil {
		log.Warn().
			Err(err).
			Str("path", s.path).
			Msg("registry document failed validation, falling back to default")
		return NewDefault(), nil
	}

	if reg.Projects == nil {
		reg.Projects = make(map[string]*Project)
	}
	reg.baselineVersion = reg.Version

	log.Debug().
		Str("host", s.exec.Host()).
		Int("projects", len(reg.Projects)).
		Int64("version", reg.Version).
		Msg("registry loaded")

	return &reg, nil
}

// Save stamps updatedAt, increments the version, and replaces the whole
// document. The write is rejected with a StaleWriteError when the
// document on the host no longer matches the version this registry was
// loaded from.
func (s *Store) Save(ctx context.Context, reg *Registry) error {
	if err := s.checkBaseline(ctx, reg); err != nil {
		return err
	}

	reg.Version = reg.baselineVersion + 1
	reg.UpdatedAt = time.Now().UTC()

	content, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	content = append(content, '\n')

	if err := s.exec.PushFile(ctx, content, s.path, 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}

	reg.baselineVersion = reg.Version

	log.Info().
		Str("host", s.exec.Host()).
		Str("path", s.path).
		Int64("version", reg.Version).
		Int("projects", len(reg.Projects)).
		Msg("registry saved")

	return nil
}

// checkBaseline re-reads the current document version and rejects the
// write when a concurrent writer got there first.
func (s *Store) checkBaseline(ctx context.Context, reg *Registry) error {
	content, err := s.exec.FetchFile(ctx, s.path)
	if err != nil {
		if remote.IsNotFound(err) {
			// First write to this host; any baseline is acceptable.
			return nil
		}
		return fmt.Errorf("failed to verify registry baseline: %w", err)
	}

	var current struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(content, &current); err != nil {
		// A corrupt document on disk is superseded by this write.
		log.Warn().Str("path", s.path).Msg("existing registry document corrupt, overwriting")
		return nil
	}

	if current.Version != reg.baselineVersion {
		return &StaleWriteError{Baseline: reg.baselineVersion, Current: current.Version}
	}
	return nil
}
