package entity

// Identity is the acting user as reported by the review API.
type Identity struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Handle string `json:"handle"`
	Role   string `json:"role,omitempty"`
}

// DisplayRole returns Role, or "user" when the API did not send one.
func (i Identity) DisplayRole() string {
	if i.Role == "" {
		return "user"
	}
	return i.Role
}
