package provision

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// DatabaseName derives the deterministic logical database name for a
// project. Hyphens become underscores because SQL identifiers cannot
// carry them unquoted.
func DatabaseName(project string) string {
	return strings.ReplaceAll(project, "-", "_") + "_db"
}

// DatabaseUser derives the deterministic owning user for a project.
func DatabaseUser(project string) string {
	return strings.ReplaceAll(project, "-", "_") + "_user"
}

// passwordAlphabet deliberately excludes characters that need quoting
// in connection strings or shell commands.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GeneratePassword returns a random credential of length n. It is
// generated once, on first user creation; an existing user's credential
// is never rotated by the provisioning path.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	var b strings.Builder
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate credential: %w", err)
		}
		b.WriteByte(passwordAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
