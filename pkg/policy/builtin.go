package policy

// builtinPolicies are always loaded. Each module contributes to the
// data.berth.deny set; a violation object carries message and severity.
func builtinPolicies() []Policy {
	return []Policy{
		projectNamingPolicy(),
		productionGuardPolicy(),
	}
}

// projectNamingPolicy enforces the lowercase/hyphenated project key
// convention the registry requires.
func projectNamingPolicy() Policy {
	return Policy{
		Name: "project-naming",
		Rego: `package berth.naming

import rego.v1

deny contains violation if {
	not regex.match("^[a-z][a-z0-9-]*$", input.project)
	violation := {
		"policy": "project-naming",
		"message": sprintf("project name %q must be lowercase alphanumeric with hyphens", [input.project]),
		"severity": "error",
	}
}
`,
	}
}

// productionGuardPolicy keeps production provisioning deliberate: a
// declared project type is required, and explicit port requests must
// not point at staging ranges.
func productionGuardPolicy() Policy {
	return Policy{
		Name: "production-guard",
		Rego: `package berth.production

import rego.v1

deny contains violation if {
	input.environment == "production"
	input.type == ""
	violation := {
		"policy": "production-guard",
		"message": "production provisioning requires an explicit project type",
		"severity": "error",
	}
}

deny contains violation if {
	input.environment == "production"
	input.port >= 3000
	input.port <= 3499
	violation := {
		"policy": "production-guard",
		"message": sprintf("port %d is in the staging app range; pick a production port", [input.port]),
		"severity": "warning",
	}
}
`,
	}
}
