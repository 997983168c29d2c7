package models

const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// Identity is a verified caller identity supplied by the auth collaborator.
// Sessions that never authenticate carry an anonymous identity.
type Identity struct {
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
	Role      string `json:"role,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

func AnonymousIdentity() Identity {
	return Identity{Anonymous: true}
}
