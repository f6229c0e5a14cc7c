// Package slot defines the authoritative allocation ranges: every
// (environment, kind) pair maps to exactly one closed port range, and
// cache indices draw from a single bounded index space. All allocation
// and validation code consumes this table; range boundaries are never
// duplicated at call sites.
package slot

import "fmt"

// Environment is a deployment environment name.
type Environment string

const (
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
	EnvPreview    Environment = "preview"
)

// Kind is an allocatable resource kind.
type Kind string

const (
	// KindApp is an application listener port.
	KindApp Kind = "app"

	// KindDatabase is a per-project database port.
	KindDatabase Kind = "db"

	// KindCache is a per-project cache port.
	KindCache Kind = "cache"

	// KindCacheIndex is a logical cache database index, not a port.
	KindCacheIndex Kind = "cache-index"
)

// Range is a closed numeric interval of allocatable identifiers.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Size returns the number of identifiers in the range.
func (r Range) Size() int {
	return r.Max - r.Min + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// DefaultCacheIndexCeiling is the shared cache server's database count.
// Indices run 0..ceiling-1; the ceiling is a hard limit imposed by the
// server, not a convention.
const DefaultCacheIndexCeiling = 16

// table is the one authoritative mapping. The 15432-based database
// ranges used by earlier generations of the tooling are deprecated, not
// merged; see DeprecatedDatabaseRanges.
var table = map[Environment]map[Kind]Range{
	EnvStaging: {
		KindApp:      {Min: 3000, Max: 3499},
		KindDatabase: {Min: 5432, Max: 5449},
		KindCache:    {Min: 6379, Max: 6399},
	},
	EnvProduction: {
		KindApp:      {Min: 4000, Max: 4499},
		KindDatabase: {Min: 5450, Max: 5469},
		KindCache:    {Min: 6400, Max: 6419},
	},
	EnvPreview: {
		KindApp:      {Min: 5000, Max: 5999},
		KindDatabase: {Min: 5470, Max: 5489},
		KindCache:    {Min: 6420, Max: 6439},
	},
}

// DeprecatedDatabaseRanges are database port ranges used by older
// generations of the tooling. Ports found here are flagged for
// migration, never allocated.
var DeprecatedDatabaseRanges = []Range{
	{Min: 15432, Max: 15449},
	{Min: 15450, Max: 15469},
}

// Environments lists the known environments in a stable order.
func Environments() []Environment {
	return []Environment{EnvStaging, EnvProduction, EnvPreview}
}

// PortKinds lists the kinds that allocate ports (excludes cache index).
func PortKinds() []Kind {
	return []Kind{KindApp, KindDatabase, KindCache}
}

// RangeFor returns the range for an (environment, kind) pair.
func RangeFor(env Environment, kind Kind) (Range, error) {
	kinds, ok := table[env]
	if !ok {
		return Range{}, fmt.Errorf("unknown environment: %s", env)
	}
	r, ok := kinds[kind]
	if !ok {
		return Range{}, fmt.Errorf("no range for kind %s in environment %s", kind, env)
	}
	return r, nil
}

// CacheIndexRange returns the index range for a given ceiling. A zero or
// negative ceiling falls back to the default.
func CacheIndexRange(ceiling int) Range {
	if ceiling <= 0 {
		ceiling = DefaultCacheIndexCeiling
	}
	return Range{Min: 0, Max: ceiling - 1}
}

// Owner describes which (environment, kind) range a port belongs to.
type Owner struct {
	Environment Environment
	Kind        Kind
	Range       Range
}

// ManagedRangeFor returns the (environment, kind) pair whose range
// contains port, if any. The database ranges sit inside the preview app
// range, so the narrower database and cache ranges classify before app.
func ManagedRangeFor(port int) (Owner, bool) {
	for _, kind := range []Kind{KindDatabase, KindCache, KindApp} {
		for _, env := range Environments() {
			r := table[env][kind]
			if r.Contains(port) {
				return Owner{Environment: env, Kind: kind, Range: r}, true
			}
		}
	}
	return Owner{}, false
}

// InDeprecatedRange reports whether port falls inside a deprecated
// database range from an earlier tool generation.
func InDeprecatedRange(port int) bool {
	for _, r := range DeprecatedDatabaseRanges {
		if r.Contains(port) {
			return true
		}
	}
	return false
}

// ValidEnvironment reports whether env is a known environment.
func ValidEnvironment(env Environment) bool {
	_, ok := table[env]
	return ok
}
