package chat

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleMember        Role = "user"
	RoleAdministrator Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdministrator
}

// Account is a registered user. The ID never changes after creation.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin reports whether the account holds the administrator role.
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdministrator
}

// AccountUpdate carries the optional fields an administrator may change.
// Nil fields are left untouched.
type AccountUpdate struct {
	FullName *string
	Email    *string
	Role     *Role
}
