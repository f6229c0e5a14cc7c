// Package provision orchestrates idempotent creation of a project's
// backing resources on a managed host: database and owning user, cache
// index or prefix reservation, and storage directories. Every step
// tolerates "already exists" as success, so a failed run is repaired by
// re-running it, never by rollback.
package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/alloc"
	"github.com/openberth/openberth/pkg/ledger"
	"github.com/openberth/openberth/pkg/registry"
	"github.com/openberth/openberth/pkg/remote"
	"github.com/openberth/openberth/pkg/scan"
	"github.com/openberth/openberth/pkg/slot"
	"github.com/openberth/openberth/pkg/telemetry"
)

// Kind is a provisionable resource kind.
type Kind string

const (
	KindDatabase Kind = "database"
	KindCache    Kind = "cache"
	KindStorage  Kind = "storage"
)

// StepStatus is the outcome of one resource kind's step.
type StepStatus string

const (
	StatusCreated StepStatus = "created"
	StatusExists  StepStatus = "exists"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// Result reports one resource kind's step.
type Result struct {
	Kind   Kind       `json:"kind"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	Err    error      `json:"-"`
}

// ConflictError reports a requested port that is already held, carrying
// the suggestion so an interactive caller can offer it to the operator.
type ConflictError struct {
	Requested int
	Suggested int
	Owner     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("port %d is held by %s (suggested: %d)", e.Requested, e.Owner, e.Suggested)
}

// storageSubdirs is the fixed directory layout every project gets.
var storageSubdirs = []string{"data", "logs", "backups", "tmp"}

// storageMode is the permission mode set on project directories.
const storageMode = "750"

// Request describes one provisioning invocation.
type Request struct {
	// Project is the target project name (lowercase/hyphenated).
	Project string

	// Type is the declared application kind tag, recorded on first
	// provisioning.
	Type string

	// Environment is the environment the app port is bound in.
	Environment slot.Environment

	// Kinds lists the resource kinds to provision.
	Kinds []Kind

	// AppPort is the requested application port; zero means allocate.
	AppPort int

	// Domain is an optional domain recorded on the binding.
	Domain string

	// AutoResolve accepts the allocator's suggestion when the requested
	// port conflicts. Interactive callers confirm with the operator
	// before setting this.
	AutoResolve bool
}

// Outcome is the consolidated result of one provisioning run.
type Outcome struct {
	RunID    string   `json:"run_id"`
	Project  string   `json:"project"`
	Results  []Result `json:"results"`
	AppPort  int      `json:"app_port,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// Substituted is set when the requested app port conflicted and the
	// suggestion was accepted; both values stay visible to the
	// operator.
	Substituted  bool `json:"substituted,omitempty"`
	RequestedApp int  `json:"requested_app_port,omitempty"`

	// GeneratedCredential is the database credential minted on first
	// user creation, empty on re-runs.
	GeneratedCredential string `json:"-"`
}

// Status derives the overall run status from the per-kind results.
func (o *Outcome) Status() ledger.RunStatus {
	failed, succeeded := 0, 0
	for _, r := range o.Results {
		if r.Status == StatusFailed {
			failed++
		} else {
			succeeded++
		}
	}
	switch {
	case failed == 0:
		return ledger.RunStatusSucceeded
	case succeeded == 0:
		return ledger.RunStatusFailed
	default:
		return ledger.RunStatusPartial
	}
}

// Provisioner orchestrates resource creation for one managed host.
type Provisioner struct {
	exec        remote.Executor
	store       *registry.Store
	scanner     *scan.Scanner
	ledger      *ledger.Store
	metrics     *telemetry.Metrics
	dbPrincipal string
}

// NewProvisioner creates a provisioner. ledgerStore and metrics may be
// nil; dbPrincipal defaults to "postgres".
func NewProvisioner(exec remote.Executor, store *registry.Store, scanner *scan.Scanner, ledgerStore *ledger.Store, metrics *telemetry.Metrics, dbPrincipal string) *Provisioner {
	if dbPrincipal == "" {
		dbPrincipal = "postgres"
	}
	return &Provisioner{
		exec:        exec,
		store:       store,
		scanner:     scanner,
		ledger:      ledgerStore,
		metrics:     metrics,
		dbPrincipal: dbPrincipal,
	}
}

// Provision runs the requested resource kinds and writes one
// consolidated registry update. Partial failures are reported per kind;
// kinds that already succeeded are never rolled back, and a re-run
// re-detects them as existing.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*Outcome, error) {
	if !registry.ValidProjectName(req.Project) {
		return nil, fmt.Errorf("invalid project name %q", req.Project)
	}
	if !slot.ValidEnvironment(req.Environment) {
		return nil, fmt.Errorf("unknown environment %q", req.Environment)
	}

	startedAt := time.Now().UTC()
	outcome := &Outcome{Project: req.Project}

	reg, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	obs, err := p.scanner.ScanPorts(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	used := obs.UsedPorts

	proj, err := reg.EnsureProject(req.Project, req.Type)
	if err != nil {
		return nil, err
	}

	if err := p.resolveAppPort(ctx, req, proj, used, outcome); err != nil {
		return nil, err
	}

	for _, kind := range req.Kinds {
		var result Result
		switch kind {
		case KindDatabase:
			var password string
			if proj.Resources.Database != nil {
				result = Result{Kind: KindDatabase, Status: StatusSkipped, Detail: "database already recorded"}
			} else {
				result, password = p.provisionDatabase(ctx, reg, req.Project)
				if result.Status != StatusFailed {
					proj.Resources.Database = &registry.Database{
						Name: DatabaseName(req.Project),
						User: DatabaseUser(req.Project),
						Host: reg.Infrastructure.DatabaseHost,
						Port: reg.Infrastructure.DatabasePort,
					}
					outcome.GeneratedCredential = password
				}
			}

		case KindCache:
			result = p.provisionCache(reg, proj, req.Project)

		case KindStorage:
			result = p.provisionStorage(ctx, reg, proj, req.Project)

		default:
			result = Result{Kind: kind, Status: StatusFailed, Err: fmt.Errorf("unknown resource kind %q", kind)}
		}

		p.metrics.ObserveProvisionStep(string(kind), string(result.Status))
		outcome.Results = append(outcome.Results, result)
	}

	if err := p.store.Save(ctx, reg); err != nil {
		p.metrics.ObserveRegistryWrite("failed")
		return outcome, fmt.Errorf("registry update failed: %w", err)
	}
	p.metrics.ObserveRegistryWrite("ok")

	p.recordRun(ctx, req, outcome, startedAt)

	return outcome, nil
}

// resolveAppPort settles the environment binding's port: validate an
// explicit request, allocate otherwise.
func (p *Provisioner) resolveAppPort(ctx context.Context, req Request, proj *registry.Project, used map[int]string, outcome *Outcome) error {
	binding := proj.Environments[req.Environment]
	if binding != nil && binding.Port > 0 && (req.AppPort == 0 || req.AppPort == binding.Port) {
		// Binding already provisioned; re-requesting the project's own
		// recorded port is the keep path, not a conflict with itself.
		outcome.AppPort = binding.Port
		return nil
	}

	port := req.AppPort
	if port == 0 {
		allocation, err := alloc.NextFree(req.Environment, slot.KindApp, used)
		if err != nil {
			return err
		}
		port = allocation.Port
		p.metrics.ObserveAllocation(string(req.Environment), string(slot.KindApp), allocation.Exhausted)
		if allocation.Exhausted {
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("app port range %s exhausted, allocated %d outside range", allocation.Range, port))
		}
	} else {
		validation, err := alloc.Validate(port, req.Environment, slot.KindApp, used)
		if err != nil {
			return err
		}
		if w := validation.Warning(); w != "" {
			outcome.Warnings = append(outcome.Warnings, w)
		}
		if !validation.Valid {
			if !req.AutoResolve {
				return &ConflictError{Requested: port, Suggested: validation.Suggested.Port, Owner: validation.Owner}
			}
			outcome.Substituted = true
			outcome.RequestedApp = port
			port = validation.Suggested.Port
			if validation.Suggested.Exhausted {
				outcome.Warnings = append(outcome.Warnings,
					fmt.Sprintf("app port range %s exhausted, substituted %d outside range", validation.Suggested.Range, port))
			}
			log.Warn().
				Int("requested", outcome.RequestedApp).
				Int("substituted", port).
				Str("owner", validation.Owner).
				Msg("requested port conflicted, substitution accepted")
		}
	}

	if binding == nil {
		binding = &registry.EnvironmentBinding{}
		if proj.Environments == nil {
			proj.Environments = make(map[slot.Environment]*registry.EnvironmentBinding)
		}
		proj.Environments[req.Environment] = binding
	}
	binding.Port = port
	if req.Domain != "" {
		binding.Domain = req.Domain
	}
	outcome.AppPort = port
	used[port] = fmt.Sprintf("%s/%s", req.Project, req.Environment)

	if p.ledger != nil {
		rec := &ledger.PortRecord{
			Host:        p.exec.Host(),
			Project:     req.Project,
			Environment: string(req.Environment),
			Kind:        string(slot.KindApp),
			Port:        port,
		}
		if err := p.ledger.RecordPort(ctx, rec); err != nil {
			log.Warn().Err(err).Int("port", port).Msg("failed to record port in ledger")
		}
	}

	return nil
}

// provisionCache reserves a cache slot. Pure bookkeeping: the shared
// cache server needs no per-tenant creation step, so the only side
// effect is the registry update.
func (p *Provisioner) provisionCache(reg *registry.Registry, proj *registry.Project, project string) Result {
	if proj.Resources.Cache != nil {
		return Result{Kind: KindCache, Status: StatusSkipped, Detail: "cache reservation already recorded"}
	}

	reserved := alloc.NextCacheSlot(project, reg.Infrastructure.CacheIndexCeiling, reg.UsedCacheIndices())
	proj.Resources.Cache = &registry.Cache{
		Index:  reserved.Index,
		Prefix: reserved.Prefix,
		Host:   reg.Infrastructure.CacheHost,
		Port:   reg.Infrastructure.CachePort,
	}

	detail := fmt.Sprintf("reserved cache %s", reserved)
	log.Info().Str("project", project).Str("slot", reserved.String()).Msg("cache step completed")
	return Result{Kind: KindCache, Status: StatusCreated, Detail: detail}
}

// provisionStorage creates the project's base directory and fixed
// subdirectories, then sets the permission mode. mkdir -p makes the
// whole step idempotent.
func (p *Provisioner) provisionStorage(ctx context.Context, reg *registry.Registry, proj *registry.Project, project string) Result {
	basePath := fmt.Sprintf("%s/%s", reg.Infrastructure.StorageRoot, project)

	existed := false
	if _, err := p.exec.Execute(ctx, fmt.Sprintf("test -d %s", basePath)); err == nil {
		existed = true
	}

	for _, sub := range append([]string{""}, storageSubdirs...) {
		dir := basePath
		if sub != "" {
			dir = basePath + "/" + sub
		}
		if _, err := p.exec.Execute(ctx, fmt.Sprintf("mkdir -p %s", dir)); err != nil {
			return Result{Kind: KindStorage, Status: StatusFailed, Err: fmt.Errorf("failed to create %s: %w", dir, err)}
		}
	}

	if _, err := p.exec.Execute(ctx, fmt.Sprintf("chmod -R %s %s", storageMode, basePath)); err != nil {
		return Result{Kind: KindStorage, Status: StatusFailed, Err: fmt.Errorf("failed to set mode on %s: %w", basePath, err)}
	}

	proj.Resources.Storage = &registry.Storage{
		BasePath: basePath,
		Subdirs:  storageSubdirs,
	}

	status := StatusCreated
	if existed {
		status = StatusExists
	}
	log.Info().Str("project", project).Str("path", basePath).Str("status", string(status)).Msg("storage step completed")
	return Result{Kind: KindStorage, Status: status, Detail: basePath}
}

// recordRun persists the run outcome in the ledger, best-effort.
func (p *Provisioner) recordRun(ctx context.Context, req Request, outcome *Outcome, startedAt time.Time) {
	if p.ledger == nil {
		return
	}

	detail, err := json.Marshal(outcome.Results)
	if err != nil {
		detail = nil
	}
	finishedAt := time.Now().UTC()
	run := &ledger.Run{
		Host:       p.exec.Host(),
		Project:    req.Project,
		Status:     outcome.Status(),
		Detail:     string(detail),
		StartedAt:  startedAt,
		FinishedAt: &finishedAt,
	}
	if err := p.ledger.RecordRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to record provisioning run")
		return
	}
	outcome.RunID = run.ID
}
