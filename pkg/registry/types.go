// Package registry implements the authoritative persisted document of
// provisioned per-project resources on a managed host, and the store
// that reads and writes it.
package registry

import (
	"fmt"
	"regexp"
	"time"

	"github.com/openberth/openberth/pkg/slot"
)

// Registry is the root document, one per managed host.
type Registry struct {
	// Infrastructure holds shared service coordinates. Immutable after
	// first write except by explicit migration.
	Infrastructure Infrastructure `json:"infrastructure" validate:"required"`

	// Projects maps project name to its provisioned resources.
	Projects map[string]*Project `json:"projects" validate:"dive"`

	// Version is the optimistic concurrency stamp, incremented on every
	// save. A writer whose baseline version is stale is rejected.
	Version int64 `json:"version"`

	// UpdatedAt is stamped on every save.
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	// baselineVersion is the version observed at load time, used to
	// detect concurrent writers at save time.
	baselineVersion int64
}

// Infrastructure holds the shared service coordinates for one host.
type Infrastructure struct {
	// DatabaseHost is the shared database server address as seen from
	// project containers.
	DatabaseHost string `json:"databaseHost" validate:"required"`

	// DatabasePort is the shared database server port.
	DatabasePort int `json:"databasePort" validate:"min=1,max=65535"`

	// CacheHost is the shared cache server address.
	CacheHost string `json:"cacheHost" validate:"required"`

	// CachePort is the shared cache server port.
	CachePort int `json:"cachePort" validate:"min=1,max=65535"`

	// CacheIndexCeiling is the cache server's database count. Indices
	// run 0..ceiling-1.
	CacheIndexCeiling int `json:"cacheIndexCeiling" validate:"min=1"`

	// StorageRoot is the base path under which project storage
	// directories are created.
	StorageRoot string `json:"storageRoot" validate:"required"`
}

// Project is one tracked project's provisioned state.
type Project struct {
	// CreatedAt is set once, when the entry is first created.
	CreatedAt time.Time `json:"createdAt"`

	// Type is the declared application kind (free-form tag, e.g. "web").
	Type string `json:"type,omitempty"`

	// Resources holds the provisioned sub-records. Absence of a record
	// means the resource kind has not been provisioned.
	Resources Resources `json:"resources"`

	// Environments maps environment name to its binding.
	Environments map[slot.Environment]*EnvironmentBinding `json:"environments,omitempty" validate:"dive"`
}

// Resources groups the optional per-kind records of a project.
type Resources struct {
	Database *Database `json:"database,omitempty"`
	Cache    *Cache    `json:"cache,omitempty"`
	Storage  *Storage  `json:"storage,omitempty"`
}

// Database records a provisioned logical database. Name and User must be
// unique across the whole registry.
type Database struct {
	Name string `json:"name" validate:"required"`
	User string `json:"user" validate:"required"`
	Host string `json:"host" validate:"required"`
	Port int    `json:"port" validate:"min=1,max=65535"`
}

// Cache records a provisioned cache reservation: either a numeric index
// (unique across the registry) or a key prefix once the index space is
// exhausted.
type Cache struct {
	Index  *int   `json:"index,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Host   string `json:"host" validate:"required"`
	Port   int    `json:"port" validate:"min=1,max=65535"`
}

// Storage records a project's storage directory layout.
type Storage struct {
	BasePath string   `json:"basePath" validate:"required"`
	Subdirs  []string `json:"subdirs,omitempty"`
}

// EnvironmentBinding binds a project to one environment.
type EnvironmentBinding struct {
	Port    int    `json:"port" validate:"min=1,max=65535"`
	Domain  string `json:"domain,omitempty"`
	EnvFile string `json:"envFile,omitempty"`
}

// projectNameRe enforces lowercase/hyphenated project keys.
var projectNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidProjectName reports whether name is a usable project key.
func ValidProjectName(name string) bool {
	return projectNameRe.MatchString(name)
}

// NewDefault returns the documented empty-but-valid registry used when
// no document exists on the host or the existing one is unreadable.
func NewDefault() *Registry {
	return &Registry{
		Infrastructure: Infrastructure{
			DatabaseHost:      "127.0.0.1",
			DatabasePort:      5432,
			CacheHost:         "127.0.0.1",
			CachePort:         6379,
			CacheIndexCeiling: slot.DefaultCacheIndexCeiling,
			StorageRoot:       "/srv/projects",
		},
		Projects: make(map[string]*Project),
	}
}

// EnsureProject returns the project entry for name, lazily creating it
// on first provisioning. The entry is never implicitly deleted.
func (r *Registry) EnsureProject(name, projectType string) (*Project, error) {
	if !ValidProjectName(name) {
		return nil, fmt.Errorf("invalid project name %q: must be lowercase alphanumeric with hyphens", name)
	}
	if r.Projects == nil {
		r.Projects = make(map[string]*Project)
	}
	p, ok := r.Projects[name]
	if !ok {
		p = &Project{
			CreatedAt:    time.Now().UTC(),
			Type:         projectType,
			Environments: make(map[slot.Environment]*EnvironmentBinding),
		}
		r.Projects[name] = p
	} else if projectType != "" && p.Type == "" {
		p.Type = projectType
	}
	return p, nil
}

// UsedPorts returns every port recorded in the registry mapped to an
// owner label of the form "project/environment" or "project/kind".
func (r *Registry) UsedPorts() map[int]string {
	used := make(map[int]string)
	for name, p := range r.Projects {
		for env, binding := range p.Environments {
			if binding != nil && binding.Port > 0 {
				used[binding.Port] = fmt.Sprintf("%s/%s", name, env)
			}
		}
		if db := p.Resources.Database; db != nil && db.Port > 0 {
			if _, taken := used[db.Port]; !taken {
				used[db.Port] = fmt.Sprintf("%s/%s", name, slot.KindDatabase)
			}
		}
		if c := p.Resources.Cache; c != nil && c.Port > 0 {
			if _, taken := used[c.Port]; !taken {
				used[c.Port] = fmt.Sprintf("%s/%s", name, slot.KindCache)
			}
		}
	}
	return used
}

// UsedCacheIndices returns every reserved cache index mapped to its
// owning project.
func (r *Registry) UsedCacheIndices() map[int]string {
	used := make(map[int]string)
	for name, p := range r.Projects {
		if c := p.Resources.Cache; c != nil && c.Index != nil {
			used[*c.Index] = name
		}
	}
	return used
}

// DatabaseNames returns every database name and user already recorded,
// for collision checks on the derived name/user pair.
func (r *Registry) DatabaseNames() (names, users map[string]string) {
	names = make(map[string]string)
	users = make(map[string]string)
	for projectName, p := range r.Projects {
		if db := p.Resources.Database; db != nil {
			names[db.Name] = projectName
			users[db.User] = projectName
		}
	}
	return names, users
}

// BaselineVersion returns the version observed when this registry was
// loaded.
func (r *Registry) BaselineVersion() int64 {
	return r.baselineVersion
}
