package api

import (
	"fmt"
	"regexp"
	"strings"
)

// Application is a registered unit of reconciliation: manifests from one
// source location applied to one destination.
type Application struct {
	// Name uniquely identifies the application within the controller.
	Name string `json:"name" yaml:"name"`

	// Source locates the desired state.
	Source Source `json:"source" yaml:"source"`

	// Destination is where the desired state is applied.
	Destination Destination `json:"destination" yaml:"destination"`

	// SyncPolicy controls when and how the controller converges the application.
	SyncPolicy SyncPolicy `json:"syncPolicy" yaml:"syncPolicy"`
}

// Source points at a directory of manifests inside a repository.
type Source struct {
	// RepoURL is a git URL, a local repository path, a file:// URL or a plain
	// directory.
	RepoURL string `json:"repoURL" yaml:"repoURL"`

	// TargetRevision is a branch, tag or commit. Empty means HEAD.
	TargetRevision string `json:"targetRevision,omitempty" yaml:"targetRevision,omitempty"`

	// Path is relative to the repository root. Empty means the root.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Destination names the runtime and the default namespace for namespaced
// resources that do not set one.
type Destination struct {
	Cluster   string `json:"cluster" yaml:"cluster"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// SyncPolicy captures the automation switches of an application.
type SyncPolicy struct {
	// Automated starts a sync whenever a new source revision is observed.
	Automated bool `json:"automated" yaml:"automated"`

	// Prune allows deletion of tracked live resources that left the desired state.
	Prune bool `json:"prune" yaml:"prune"`

	// SelfHeal re-syncs automatically when live state drifts. Only honoured
	// together with Automated.
	SelfHeal bool `json:"selfHeal" yaml:"selfHeal"`

	// AllowEmpty permits pruning everything when the desired state is empty.
	AllowEmpty bool `json:"allowEmpty" yaml:"allowEmpty"`
}

// TeardownPolicy decides what happens to live resources when an application
// is removed.
type TeardownPolicy string

const (
	// TeardownCascade deletes every tracked live resource in reverse tier order
	// through a tracked SyncOperation.
	TeardownCascade TeardownPolicy = "Cascade"

	// TeardownOrphan leaves live resources untouched.
	TeardownOrphan TeardownPolicy = "Orphan"
)

// ParseTeardownPolicy accepts the policy names case-insensitively. An empty
// string selects TeardownOrphan.
func ParseTeardownPolicy(s string) (TeardownPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "orphan":
		return TeardownOrphan, nil
	case "cascade":
		return TeardownCascade, nil
	default:
		return "", fmt.Errorf("unknown teardown policy %q (expected Cascade or Orphan)", s)
	}
}

var applicationNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Validate checks the fields that the controller cannot work without.
func (a Application) Validate() error {
	if a.Name == "" {
		return NewValidationError("name", "application name is required")
	}
	if len(a.Name) > 63 || !applicationNamePattern.MatchString(a.Name) {
		return NewValidationError("name", fmt.Sprintf("application name %q must be a DNS-1123 label", a.Name))
	}
	if a.Source.RepoURL == "" {
		return NewValidationError("source.repoURL", "source repository is required")
	}
	if strings.HasPrefix(a.Source.Path, "/") || strings.Contains(a.Source.Path, "..") {
		return NewValidationError("source.path", fmt.Sprintf("source path %q must be relative and stay inside the repository", a.Source.Path))
	}
	if a.Destination.Cluster == "" {
		return NewValidationError("destination.cluster", "destination cluster is required")
	}
	return nil
}
