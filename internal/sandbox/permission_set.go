package sandbox

import "sort"

// PermissionSet is a deduplicated set of permissions.
// Permissions are normalized at construction, so rights that differ
// only by path cleanliness or host case occupy one slot.
type PermissionSet struct {
	permissions map[Permission]struct{}
}

// NewPermissionSet creates an empty permission set.
func NewPermissionSet(perms ...Permission) *PermissionSet {
	s := &PermissionSet{permissions: make(map[Permission]struct{}, len(perms))}
	for _, p := range perms {
		s.Add(p)
	}
	return s
}

// SafeDefaults returns the permission set granted to plugins that
// declare nothing: own data storage and outbound notifications.
func SafeDefaults() *PermissionSet {
	return NewPermissionSet(OwnData(), NotificationsSend())
}

// Add inserts a permission. Idempotent.
func (s *PermissionSet) Add(p Permission) {
	s.permissions[p] = struct{}{}
}

// Remove deletes a permission.
func (s *PermissionSet) Remove(p Permission) {
	delete(s.permissions, p)
}

// Has returns true if the permission is granted directly or implied
// by a broader grant.
func (s *PermissionSet) Has(p Permission) bool {
	if _, ok := s.permissions[p]; ok {
		return true
	}
	for granted := range s.permissions {
		if granted.Implies(p) {
			return true
		}
	}
	return false
}

// HasAll returns true if every permission in other is granted.
func (s *PermissionSet) HasAll(other *PermissionSet) bool {
	for p := range other.permissions {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Missing returns the permissions from required that are not granted.
func (s *PermissionSet) Missing(required *PermissionSet) []Permission {
	var missing []Permission
	for p := range required.permissions {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	sortPermissions(missing)
	return missing
}

// Permissions returns all permissions in a stable order.
func (s *PermissionSet) Permissions() []Permission {
	perms := make([]Permission, 0, len(s.permissions))
	for p := range s.permissions {
		perms = append(perms, p)
	}
	sortPermissions(perms)
	return perms
}

// HasDangerous returns true if any granted permission is dangerous.
func (s *PermissionSet) HasDangerous() bool {
	for p := range s.permissions {
		if p.IsDangerous() {
			return true
		}
	}
	return false
}

// DangerousPermissions returns the granted permissions that are
// dangerous, in a stable order.
func (s *PermissionSet) DangerousPermissions() []Permission {
	var dangerous []Permission
	for p := range s.permissions {
		if p.IsDangerous() {
			dangerous = append(dangerous, p)
		}
	}
	sortPermissions(dangerous)
	return dangerous
}

// Merge adds all permissions from other into this set.
func (s *PermissionSet) Merge(other *PermissionSet) {
	for p := range other.permissions {
		s.Add(p)
	}
}

// Union returns a new set containing the permissions of both sets.
func (s *PermissionSet) Union(other *PermissionSet) *PermissionSet {
	result := s.Clone()
	result.Merge(other)
	return result
}

// Intersection returns a new set with the permissions of this set
// that other also grants (directly or by implication).
func (s *PermissionSet) Intersection(other *PermissionSet) *PermissionSet {
	result := NewPermissionSet()
	for p := range s.permissions {
		if other.Has(p) {
			result.Add(p)
		}
	}
	return result
}

// Clone returns a copy of the set.
func (s *PermissionSet) Clone() *PermissionSet {
	clone := NewPermissionSet()
	for p := range s.permissions {
		clone.Add(p)
	}
	return clone
}

// IsEmpty returns true if no permissions are granted.
func (s *PermissionSet) IsEmpty() bool {
	return len(s.permissions) == 0
}

// Len returns the number of granted permissions.
func (s *PermissionSet) Len() int {
	return len(s.permissions)
}

// Strings returns the textual forms of all permissions, sorted.
func (s *PermissionSet) Strings() []string {
	out := make([]string, 0, len(s.permissions))
	for _, p := range s.Permissions() {
		out = append(out, p.String())
	}
	return out
}

// ParseSet parses a list of textual permissions into a set.
func ParseSet(entries []string) (*PermissionSet, error) {
	s := NewPermissionSet()
	for _, entry := range entries {
		p, err := Parse(entry)
		if err != nil {
			return nil, err
		}
		s.Add(p)
	}
	return s, nil
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Kind != perms[j].Kind {
			return perms[i].Kind < perms[j].Kind
		}
		return perms[i].Arg < perms[j].Arg
	})
}

// Request is a permission request surfaced to the user when a plugin
// asks for rights beyond what is already granted.
type Request struct {
	PluginID    string
	PluginName  string
	Permissions *PermissionSet
	Reason      string
}

// Response is the outcome of a permission request.
type Response struct {
	Granted *PermissionSet
	Denied  []Permission
}

// FullyGranted returns true if nothing was denied.
func (r Response) FullyGranted() bool {
	return len(r.Denied) == 0
}
