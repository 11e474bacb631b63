package identity

import "fmt"

// Role is the closed set of portal roles. It is read from identity
// metadata at authentication time and is authoritative for routing even
// before a profile row has been loaded.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// metadataRoleKey is the user-metadata field the provider stores the
// portal role under.
const metadataRoleKey = "role"

var validRoles = map[Role]bool{
	RolePatient: true,
	RoleDoctor:  true,
	RoleStaff:   true,
	RoleAdmin:   true,
}

// ParseRole converts a metadata string into a Role. Unknown values are
// rejected rather than propagated.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !validRoles[r] {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleFromMetadata extracts and validates the role field from a raw
// metadata map.
func RoleFromMetadata(metadata map[string]any) (Role, error) {
	raw, ok := metadata[metadataRoleKey]
	if !ok {
		return "", fmt.Errorf("identity metadata missing %q field", metadataRoleKey)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("identity metadata %q is not a string", metadataRoleKey)
	}
	return ParseRole(s)
}

func (r Role) String() string { return string(r) }

// Valid reports whether the role is a member of the closed set.
func (r Role) Valid() bool { return validRoles[r] }
