package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleLecturer   UserRole = "LECTURER"
	RoleStudent    UserRole = "STUDENT"
)

// IsGlobalApprover reports whether the role may review requests for any section.
func (r UserRole) IsGlobalApprover() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// IsApprover reports whether the role may review manual-join and drop requests.
func (r UserRole) IsApprover() bool {
	return r.IsGlobalApprover() || r == RoleLecturer
}

// Reviewer identifies who approves or rejects a request.
type Reviewer struct {
	UserID string
	Role   UserRole
}
