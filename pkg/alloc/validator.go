package alloc

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/slot"
)

// Validation is the result of checking one proposed port.
type Validation struct {
	// Port is the port that was checked.
	Port int

	// Valid is false when the port is already in the used set.
	Valid bool

	// Owner names the current holder when Valid is false.
	Owner string

	// InRange is false when the port falls outside the expected range
	// for its (environment, kind). This is a warning, not a conflict:
	// an operator may intentionally choose a custom port, but it must
	// be visible.
	InRange bool

	// Range is the expected range for the (environment, kind).
	Range slot.Range

	// Deprecated is true when the port falls inside a database range
	// from an earlier tool generation and should be migrated.
	Deprecated bool

	// Suggested is the replacement allocation, populated only on a hard
	// conflict. It is drawn from the same used set, so it cannot itself
	// collide.
	Suggested *Allocation
}

// Warning renders the non-fatal findings as operator-facing text, or ""
// when there are none.
func (v Validation) Warning() string {
	switch {
	case v.Deprecated:
		return fmt.Sprintf("port %d falls in a deprecated database range; migrate to the current table", v.Port)
	case !v.InRange:
		return fmt.Sprintf("port %d is outside the expected range %s", v.Port, v.Range)
	default:
		return ""
	}
}

// Validate checks a proposed port against the used set and the range
// table. On a hard conflict the suggestion is produced by NextFree over
// the same used set.
func Validate(port int, env slot.Environment, kind slot.Kind, used map[int]string) (Validation, error) {
	r, err := slot.RangeFor(env, kind)
	if err != nil {
		return Validation{}, err
	}

	result := Validation{
		Port:       port,
		Valid:      true,
		InRange:    r.Contains(port),
		Range:      r,
		Deprecated: slot.InDeprecatedRange(port),
	}

	if owner, taken := used[port]; taken {
		result.Valid = false
		result.Owner = owner

		suggestion, err := NextFree(env, kind, used)
		if err != nil {
			return Validation{}, err
		}
		result.Suggested = &suggestion

		log.Warn().
			Int("port", port).
			Str("owner", owner).
			Int("suggested", suggestion.Port).
			Str("environment", string(env)).
			Str("kind", string(kind)).
			Msg("port conflict detected")
	}

	return result, nil
}

// PortRequest is one port of a full project configuration.
type PortRequest struct {
	Environment slot.Environment
	Kind        slot.Kind
	Port        int
}

// PortResolution records how one requested port was settled.
type PortResolution struct {
	Request    PortRequest
	Validation Validation

	// Final is the port the configuration ends up with: the request
	// when it was free, the suggestion otherwise.
	Final int

	// Substituted is true when Final differs from the request. The
	// operator must confirm substitutions in interactive contexts.
	Substituted bool
}

// ValidateProject validates a full set of proposed ports. Conflicts are
// resolved greedily in a stable order, and every accepted suggestion is
// folded back into the used set before the next port is checked, so the
// final configuration is internally consistent even when several ports
// needed remediation at once.
//
// The used map is copied; the caller's set is not mutated.
func ValidateProject(project string, requests []PortRequest, used map[int]string) ([]PortResolution, error) {
	working := make(map[int]string, len(used)+len(requests))
	for port, owner := range used {
		working[port] = owner
	}

	ordered := make([]PortRequest, len(requests))
	copy(ordered, requests)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Environment != ordered[j].Environment {
			return ordered[i].Environment < ordered[j].Environment
		}
		return ordered[i].Kind < ordered[j].Kind
	})

	resolutions := make([]PortResolution, 0, len(ordered))
	for _, req := range ordered {
		validation, err := Validate(req.Port, req.Environment, req.Kind, working)
		if err != nil {
			return nil, err
		}

		res := PortResolution{Request: req, Validation: validation, Final: req.Port}
		if !validation.Valid {
			res.Final = validation.Suggested.Port
			res.Substituted = true
		}

		// Fold the settled port back in so later requests cannot land
		// on it.
		working[res.Final] = fmt.Sprintf("%s/%s", project, req.Environment)
		resolutions = append(resolutions, res)
	}

	return resolutions, nil
}
