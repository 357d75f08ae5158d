package sandbox

import (
	"fmt"
	"sync"
	"time"
)

// ViolationKind classifies an observed sandbox-boundary violation.
type ViolationKind int

const (
	// ViolationFileAccess is an unauthorized file access attempt.
	ViolationFileAccess ViolationKind = iota

	// ViolationNetworkAccess is an unauthorized network access attempt.
	ViolationNetworkAccess

	// ViolationDBusAccess is an unauthorized bus name access attempt.
	ViolationDBusAccess

	// ViolationSyscall is an unauthorized syscall attempt.
	ViolationSyscall

	// ViolationResourceLimit is a resource ceiling breach.
	ViolationResourceLimit

	// ViolationOther covers anything else.
	ViolationOther
)

// String returns a string representation of the violation kind.
func (k ViolationKind) String() string {
	switch k {
	case ViolationFileAccess:
		return "file-access"
	case ViolationNetworkAccess:
		return "network-access"
	case ViolationDBusAccess:
		return "dbus-access"
	case ViolationSyscall:
		return "syscall"
	case ViolationResourceLimit:
		return "resource-limit"
	case ViolationOther:
		return "other"
	default:
		return "unknown"
	}
}

// ParseViolationKind parses the string form of a violation kind.
func ParseViolationKind(s string) (ViolationKind, error) {
	switch s {
	case "file-access":
		return ViolationFileAccess, nil
	case "network-access":
		return ViolationNetworkAccess, nil
	case "dbus-access":
		return ViolationDBusAccess, nil
	case "syscall":
		return ViolationSyscall, nil
	case "resource-limit":
		return ViolationResourceLimit, nil
	case "other":
		return ViolationOther, nil
	default:
		return ViolationOther, fmt.Errorf("unknown violation kind %q", s)
	}
}

// Violation is one observed attempt by a plugin to exceed its granted
// boundary. Audit data only; enforcement never consults it.
type Violation struct {
	PluginID  string
	Kind      ViolationKind
	Detail    string
	Timestamp time.Time
}

// NewViolation creates a violation stamped with the current time.
func NewViolation(pluginID string, kind ViolationKind, detail string) Violation {
	return Violation{
		PluginID:  pluginID,
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}

// Reporter records violations.
type Reporter interface {
	Report(v Violation) error
}

// MemoryReporter keeps the most recent violations in memory. Intended
// for tests and for the host's in-session violation view.
type MemoryReporter struct {
	mu         sync.Mutex
	max        int
	violations []Violation
}

// NewMemoryReporter creates a reporter retaining at most max entries.
// A max of 0 means unbounded.
func NewMemoryReporter(max int) *MemoryReporter {
	return &MemoryReporter{max: max}
}

// Report appends a violation, evicting the oldest entry when full.
func (r *MemoryReporter) Report(v Violation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.violations = append(r.violations, v)
	if r.max > 0 && len(r.violations) > r.max {
		r.violations = r.violations[len(r.violations)-r.max:]
	}
	return nil
}

// Violations returns a copy of the retained violations.
func (r *MemoryReporter) Violations() []Violation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Violation, len(r.violations))
	copy(out, r.violations)
	return out
}

// ViolationsFor returns the retained violations for one plugin.
func (r *MemoryReporter) ViolationsFor(pluginID string) []Violation {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Violation
	for _, v := range r.violations {
		if v.PluginID == pluginID {
			out = append(out, v)
		}
	}
	return out
}

// Count returns the number of retained violations.
func (r *MemoryReporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.violations)
}
