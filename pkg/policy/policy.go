// Package policy gates provisioning requests through Rego policies.
// Built-in policies cover naming and production hygiene; operators can
// load additional policy files. In advisory mode violations are
// surfaced but never block; in enforcing mode an error-severity
// violation stops the request.
package policy

import (
	"fmt"
	"os"
)

// Mode is the enforcement mode.
type Mode string

const (
	// ModeAdvisory surfaces violations without blocking.
	ModeAdvisory Mode = "advisory"

	// ModeEnforcing blocks requests with error-severity violations.
	ModeEnforcing Mode = "enforcing"
)

// Severity grades a violation.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Input is the document policies evaluate.
type Input struct {
	Project     string   `json:"project"`
	Type        string   `json:"type"`
	Environment string   `json:"environment"`
	Kinds       []string `json:"kinds"`
	Port        int      `json:"port"`
}

// Violation is one policy denial.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Decision is the aggregate evaluation result.
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}

// Policy is one named Rego module.
type Policy struct {
	Name string
	Rego string
}

// LoadPolicyFile reads a policy module from disk.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Policy{Name: path, Rego: string(data)}, nil
}
