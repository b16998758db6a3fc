package session

// User is the authenticated identity as reported by the upstream API.
// CurrentBusinessID is the single pointer to the active business; it is empty
// only before onboarding completes.
type User struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	Avatar            string `json:"avatar,omitempty"`
	RoleID            string `json:"roleId,omitempty"`
	CurrentBusinessID string `json:"currentBusinessId,omitempty"`
}

// Business is a tenant: an isolated customer account with its own set of
// enabled feature modules. A module missing from Modules denies access to
// that feature area regardless of user permissions.
type Business struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	OwnerID string   `json:"ownerId,omitempty"`
	Modules []string `json:"modules,omitempty"`
}

// Role groups resource:action permission strings.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// CloneUser returns a deep copy, or nil for nil input.
func CloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// CloneBusinesses deep-copies a business list, including module slices.
func CloneBusinesses(list []Business) []Business {
	if list == nil {
		return nil
	}
	out := make([]Business, len(list))
	for i, b := range list {
		out[i] = b
		if b.Modules != nil {
			out[i].Modules = append([]string(nil), b.Modules...)
		}
	}
	return out
}
