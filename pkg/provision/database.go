package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/registry"
	"github.com/openberth/openberth/pkg/remote"
)

// provisionDatabase runs the idempotent database state machine:
// check-or-create the logical database, check-or-create the owning user
// with a freshly generated credential, grant privileges. Every SQL step
// tolerates "already exists" as success.
func (p *Provisioner) provisionDatabase(ctx context.Context, reg *registry.Registry, project string) (Result, string) {
	dbName := DatabaseName(project)
	dbUser := DatabaseUser(project)

	// The derived pair must not collide with a record held by another
	// project.
	names, users := reg.DatabaseNames()
	if owner, taken := names[dbName]; taken && owner != project {
		return Result{
			Kind:   KindDatabase,
			Status: StatusFailed,
			Err:    fmt.Errorf("database name %q already belongs to project %q", dbName, owner),
		}, ""
	}
	if owner, taken := users[dbUser]; taken && owner != project {
		return Result{
			Kind:   KindDatabase,
			Status: StatusFailed,
			Err:    fmt.Errorf("database user %q already belongs to project %q", dbUser, owner),
		}, ""
	}

	dbExists, err := p.databaseExists(ctx, dbName)
	if err != nil {
		return Result{Kind: KindDatabase, Status: StatusFailed, Err: err}, ""
	}

	userExists, err := p.userExists(ctx, dbUser)
	if err != nil {
		return Result{Kind: KindDatabase, Status: StatusFailed, Err: err}, ""
	}

	password := ""
	if !userExists {
		password, err = GeneratePassword(32)
		if err != nil {
			return Result{Kind: KindDatabase, Status: StatusFailed, Err: err}, ""
		}
		createUser := fmt.Sprintf(`psql -c "CREATE USER %s WITH PASSWORD '%s'"`, dbUser, password)
		if _, err := p.exec.ExecuteAs(ctx, p.dbPrincipal, createUser); err != nil {
			if !alreadyExists(err) {
				return Result{Kind: KindDatabase, Status: StatusFailed, Err: fmt.Errorf("failed to create user %s: %w", dbUser, err)}, ""
			}
			log.Debug().Str("user", dbUser).Msg("user appeared concurrently, treating as existing")
			password = ""
		}
	}

	if !dbExists {
		createDB := fmt.Sprintf(`psql -c "CREATE DATABASE %s OWNER %s"`, dbName, dbUser)
		if _, err := p.exec.ExecuteAs(ctx, p.dbPrincipal, createDB); err != nil && !alreadyExists(err) {
			return Result{Kind: KindDatabase, Status: StatusFailed, Err: fmt.Errorf("failed to create database %s: %w", dbName, err)}, ""
		}
	}

	grant := fmt.Sprintf(`psql -c "GRANT ALL PRIVILEGES ON DATABASE %s TO %s"`, dbName, dbUser)
	if _, err := p.exec.ExecuteAs(ctx, p.dbPrincipal, grant); err != nil {
		return Result{Kind: KindDatabase, Status: StatusFailed, Err: fmt.Errorf("failed to grant privileges on %s: %w", dbName, err)}, ""
	}

	status := StatusCreated
	detail := fmt.Sprintf("database %s owned by %s", dbName, dbUser)
	if dbExists && userExists {
		status = StatusExists
		detail = fmt.Sprintf("database %s and user %s already present", dbName, dbUser)
	}

	log.Info().
		Str("project", project).
		Str("database", dbName).
		Str("user", dbUser).
		Str("status", string(status)).
		Msg("database step completed")

	return Result{Kind: KindDatabase, Status: status, Detail: detail}, password
}

// databaseExists queries the catalog instead of trusting stderr
// pattern matching.
func (p *Provisioner) databaseExists(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf(`psql -At -c "SELECT 1 FROM pg_database WHERE datname = '%s'"`, name)
	stdout, err := p.exec.ExecuteAs(ctx, p.dbPrincipal, query)
	if err != nil {
		return false, fmt.Errorf("failed to check database %s: %w", name, err)
	}
	return strings.TrimSpace(stdout) == "1", nil
}

// userExists queries pg_roles for the derived user.
func (p *Provisioner) userExists(ctx context.Context, user string) (bool, error) {
	query := fmt.Sprintf(`psql -At -c "SELECT 1 FROM pg_roles WHERE rolname = '%s'"`, user)
	stdout, err := p.exec.ExecuteAs(ctx, p.dbPrincipal, query)
	if err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", user, err)
	}
	return strings.TrimSpace(stdout) == "1", nil
}

// alreadyExists recognizes the "already exists" failure a concurrent
// creation can produce between our existence check and the CREATE.
func alreadyExists(err error) bool {
	var re *remote.Error
	if errors.As(err, &re) && strings.Contains(strings.ToLower(re.Stderr), "already exists") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
