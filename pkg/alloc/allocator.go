// Package alloc implements slot allocation and conflict validation for
// ports and cache indices. Allocation is a pure scan over the
// authoritative range table; correctness depends on the caller supplying
// a fresh, complete used set.
package alloc

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/slot"
)

// Allocation is the result of a port allocation.
type Allocation struct {
	// Port is the allocated identifier.
	Port int

	// Exhausted is true when the whole range was occupied and Port is
	// the degraded fallback (range max + 1). Callers must surface this
	// to the operator.
	Exhausted bool

	// Range is the range the allocation was drawn from.
	Range slot.Range
}

// NextFree returns the first identifier in the (environment, kind)
// range not present in used. Given the same inputs the result is always
// the same: the scan is ascending and deterministic.
//
// When the entire range is occupied the allocation degrades to
// range max + 1: no double allocation, but range membership is
// violated and the caller must warn.
func NextFree(env slot.Environment, kind slot.Kind, used map[int]string) (Allocation, error) {
	r, err := slot.RangeFor(env, kind)
	if err != nil {
		return Allocation{}, err
	}

	for port := r.Min; port <= r.Max; port++ {
		if _, taken := used[port]; !taken {
			return Allocation{Port: port, Range: r}, nil
		}
	}

	log.Warn().
		Str("environment", string(env)).
		Str("kind", string(kind)).
		Str("range", r.String()).
		Int("fallback", r.Max+1).
		Msg("range exhausted, allocating outside range")

	return Allocation{Port: r.Max + 1, Exhausted: true, Range: r}, nil
}

// CacheSlot is a cache reservation: a numeric index while the index
// space lasts, a key prefix afterwards. Exactly one of the two is set.
type CacheSlot struct {
	Index  *int
	Prefix string
}

// IsPrefix reports whether the slot is prefix-isolated.
func (s CacheSlot) IsPrefix() bool {
	return s.Prefix != ""
}

func (s CacheSlot) String() string {
	if s.Index != nil {
		return fmt.Sprintf("index %d", *s.Index)
	}
	return fmt.Sprintf("prefix %q", s.Prefix)
}

// NextCacheSlot allocates the lowest free cache index below the
// ceiling. The ceiling is a hard limit imposed by the cache server, so
// exhaustion switches strategy to key-prefix isolation derived from the
// project name instead of producing an out-of-range index.
func NextCacheSlot(project string, ceiling int, used map[int]string) CacheSlot {
	r := slot.CacheIndexRange(ceiling)

	for idx := r.Min; idx <= r.Max; idx++ {
		if _, taken := used[idx]; !taken {
			v := idx
			return CacheSlot{Index: &v}
		}
	}

	prefix := CachePrefix(project)
	log.Warn().
		Str("project", project).
		Int("ceiling", r.Max+1).
		Str("prefix", prefix).
		Msg("cache index space exhausted, falling back to key prefix isolation")

	return CacheSlot{Prefix: prefix}
}

// CachePrefix derives the key prefix used when the index space is
// exhausted.
func CachePrefix(project string) string {
	return strings.ToLower(project) + ":"
}
