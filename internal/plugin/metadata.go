package plugin

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/lumen/internal/sandbox"
)

// Metadata is a plugin's identity and declared requirements.
// Built once at manifest parse time, immutable thereafter.
type Metadata struct {
	// ID is the unique reverse-domain identifier (e.g. "org.lumen.clock").
	ID string

	// Name is the human-readable name.
	Name string

	// Version is the plugin version.
	Version *semver.Version

	// Description is a short description.
	Description string

	// Authors lists author names or orgs.
	Authors []string

	// Homepage is the plugin homepage URL.
	Homepage string

	// License is the SPDX license identifier.
	License string

	// MinAPIVersion is the minimum host API version required.
	MinAPIVersion *semver.Version

	// Capabilities the plugin declares it provides.
	Capabilities []Capability

	// Permissions the plugin requests.
	Permissions *sandbox.PermissionSet

	// Dependencies maps required plugin ids to version constraints.
	Dependencies map[string]string

	// Icon is the icon name or path.
	Icon string

	// Category groups the plugin in listings.
	Category string

	// Keywords aid discovery.
	Keywords []string
}

// Validation errors.
var (
	ErrMissingID      = errors.New("metadata: id is required")
	ErrInvalidID      = errors.New("metadata: id must be a reverse-domain identifier")
	ErrMissingName    = errors.New("metadata: name is required")
	ErrInvalidVersion = errors.New("metadata: version must be valid semver")
	ErrInvalidCap     = errors.New("metadata: invalid capability")
)

// idPattern validates plugin ids: at least two lowercase dot-separated
// segments, e.g. "org.lumen.clock".
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)+$`)

// Validate checks that the metadata is complete and well-formed.
func (m *Metadata) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: %s", ErrInvalidID, m.ID)
	}
	if m.Name == "" {
		return ErrMissingName
	}
	if m.Version == nil {
		return fmt.Errorf("%w: missing", ErrInvalidVersion)
	}
	for _, cap := range m.Capabilities {
		if !IsValidCapability(cap) {
			return fmt.Errorf("%w: %s", ErrInvalidCap, cap)
		}
	}
	for depID, constraint := range m.Dependencies {
		if !idPattern.MatchString(depID) {
			return fmt.Errorf("%w: dependency %s", ErrInvalidID, depID)
		}
		if _, err := parseConstraint(constraint); err != nil {
			return fmt.Errorf("metadata: dependency %s: %w", depID, err)
		}
	}
	return nil
}

// HasCapability returns true if the plugin declares the capability.
func (m *Metadata) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// String returns "name vX.Y.Z".
func (m *Metadata) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}

// parseConstraint parses a dependency version constraint. A bare
// version is treated as a minimum.
func parseConstraint(s string) (*semver.Constraints, error) {
	if _, err := semver.NewVersion(s); err == nil {
		s = ">= " + s
	}
	return semver.NewConstraint(s)
}

// CheckAPICompatibility reports whether a plugin built against
// required can run on a host providing hostAPI: the majors must match
// and the plugin must not need a newer minor than the host has.
func CheckAPICompatibility(required, hostAPI *semver.Version) error {
	if required.Major() != hostAPI.Major() || required.Minor() > hostAPI.Minor() {
		return &VersionMismatchError{
			Expected: required.String(),
			Actual:   hostAPI.String(),
		}
	}
	return nil
}
