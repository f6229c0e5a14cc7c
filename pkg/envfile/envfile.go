// Package envfile renders per-project environment files from registry
// records and merges drafts into existing files without clobbering
// connection credentials the operator already depends on.
package envfile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openberth/openberth/pkg/registry"
	"github.com/openberth/openberth/pkg/slot"
)

// protectedKeys are never overwritten by a merge when already present:
// they carry credentials and connection strings that rotating silently
// would break running services.
var protectedKeys = map[string]bool{
	"DATABASE_URL": true,
	"REDIS_URL":    true,
}

// protectedPrefixes extend the protection to whole key families.
var protectedPrefixes = []string{"POSTGRES_", "DB_"}

// IsProtected reports whether a key's existing value must survive a
// merge.
func IsProtected(key string) bool {
	if protectedKeys[key] {
		return true
	}
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Render produces a draft env file for one project/environment from its
// registry records. credential is the database password when freshly
// generated; when empty the password segment is omitted and an existing
// file's protected DATABASE_URL survives the merge unchanged.
func Render(project string, env slot.Environment, proj *registry.Project, credential string) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Environment for %s (%s)\n", project, env)
	fmt.Fprintf(&b, "APP_ENV=%s\n", env)

	if binding := proj.Environments[env]; binding != nil {
		if binding.Port > 0 {
			fmt.Fprintf(&b, "APP_PORT=%d\n", binding.Port)
		}
		if binding.Domain != "" {
			fmt.Fprintf(&b, "APP_DOMAIN=%s\n", binding.Domain)
		}
	}

	if db := proj.Resources.Database; db != nil {
		auth := db.User
		if credential != "" {
			auth = fmt.Sprintf("%s:%s", db.User, credential)
		}
		fmt.Fprintf(&b, "DATABASE_URL=postgres://%s@%s:%d/%s\n", auth, db.Host, db.Port, db.Name)
		fmt.Fprintf(&b, "POSTGRES_HOST=%s\n", db.Host)
		fmt.Fprintf(&b, "POSTGRES_PORT=%d\n", db.Port)
		fmt.Fprintf(&b, "POSTGRES_DB=%s\n", db.Name)
		fmt.Fprintf(&b, "POSTGRES_USER=%s\n", db.User)
		if credential != "" {
			fmt.Fprintf(&b, "POSTGRES_PASSWORD=%s\n", credential)
		}
	}

	if c := proj.Resources.Cache; c != nil {
		if c.Index != nil {
			fmt.Fprintf(&b, "REDIS_URL=redis://%s:%d/%d\n", c.Host, c.Port, *c.Index)
		} else {
			fmt.Fprintf(&b, "REDIS_URL=redis://%s:%d/0\n", c.Host, c.Port)
			fmt.Fprintf(&b, "CACHE_PREFIX=%s\n", c.Prefix)
		}
	}

	return []byte(b.String())
}

// Merge folds a draft into an existing env file. Protected keys already
// present keep their existing values; other existing keys take the
// draft's value; draft keys not yet present are appended exactly once.
// Comments and blank lines of the existing file are preserved in place.
func Merge(existing, draft []byte) []byte {
	draftValues, draftOrder := parseEnv(draft)
	seen := make(map[string]bool)

	var out []string
	for _, line := range strings.Split(strings.TrimRight(string(existing), "\n"), "\n") {
		key, _, ok := splitEnvLine(line)
		if !ok {
			out = append(out, line)
			continue
		}
		seen[key] = true

		if IsProtected(key) {
			out = append(out, line)
			continue
		}
		if newValue, inDraft := draftValues[key]; inDraft {
			out = append(out, key+"="+newValue)
			continue
		}
		out = append(out, line)
	}

	for _, key := range draftOrder {
		if !seen[key] {
			out = append(out, key+"="+draftValues[key])
		}
	}

	return []byte(strings.Join(out, "\n") + "\n")
}

// parseEnv extracts key=value pairs and their order from env text.
func parseEnv(data []byte) (map[string]string, []string) {
	values := make(map[string]string)
	var order []string
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := splitEnvLine(line)
		if !ok {
			continue
		}
		if _, dup := values[key]; !dup {
			order = append(order, key)
		}
		values[key] = value
	}
	return values, order
}

// splitEnvLine splits one "KEY=value" line; comments and blanks report
// ok=false.
func splitEnvLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	idx := strings.Index(trimmed, "=")
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(trimmed[:idx]), trimmed[idx+1:], true
}

// Keys lists the keys of env text in sorted order, for diagnostics.
func Keys(data []byte) []string {
	values, _ := parseEnv(data)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
