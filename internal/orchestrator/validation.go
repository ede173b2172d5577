package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	repoRegex   = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)
	branchRegex = regexp.MustCompile(`^[a-zA-Z0-9_./-]+$`)
)

// ValidationError reports a rejected job field. The API layer maps it to a
// 400 response.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateRepo checks the owner/repo form. Empty is allowed; callers that
// require a repo check for emptiness themselves.
func ValidateRepo(repo string) error {
	if repo == "" {
		return nil
	}
	if !repoRegex.MatchString(repo) {
		return &ValidationError{Field: "repo", Reason: "must be 'owner/repo' and contain only alphanumeric, '-', '_', '.'"}
	}
	if strings.Contains(repo, "..") {
		return &ValidationError{Field: "repo", Reason: "cannot contain '..'"}
	}
	return nil
}

// ValidateBranch checks git ref syntax constraints.
func ValidateBranch(branch string) error {
	if branch == "" {
		return nil
	}
	if !branchRegex.MatchString(branch) {
		return &ValidationError{Field: "branch", Reason: "may contain only alphanumeric, '-', '_', '.', '/'"}
	}
	if strings.Contains(branch, "..") {
		return &ValidationError{Field: "branch", Reason: "cannot contain '..'"}
	}
	if strings.Contains(branch, "//") {
		return &ValidationError{Field: "branch", Reason: "cannot contain '//'"}
	}
	if strings.HasPrefix(branch, "/") || strings.HasSuffix(branch, "/") {
		return &ValidationError{Field: "branch", Reason: "cannot start or end with '/'"}
	}
	return nil
}
