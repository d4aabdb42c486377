package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/songzhibin97/entity-workflow/types"
)

// ErrInvalidPermission is returned by ParsePermission on malformed input.
var ErrInvalidPermission = errors.New("invalid permission")

// Permission grants access to something inside one workflow.
// The canonical form is "workflow:role".
type Permission struct {
	WorkflowName string
	RoleName     string
}

// NewPermission creates a permission scoped to a workflow.
func NewPermission(workflowName, roleName string) Permission {
	return Permission{WorkflowName: workflowName, RoleName: roleName}
}

// ParsePermission parses the canonical "workflow:role" form.
func ParsePermission(value string) (Permission, error) {
	wf, role, ok := strings.Cut(value, ":")
	if !ok || wf == "" || role == "" {
		return Permission{}, fmt.Errorf("%w: %q", ErrInvalidPermission, value)
	}
	return NewPermission(wf, role), nil
}

// String returns the canonical form.
func (p Permission) String() string {
	return p.WorkflowName + ":" + p.RoleName
}

// PermissionChecker is implemented by the host to decide whether the
// current user holds a permission for an item.
type PermissionChecker interface {
	IsGranted(permission Permission, item *Item) bool
}

// PermissionCheckerFunc adapts a function to PermissionChecker.
type PermissionCheckerFunc func(permission Permission, item *Item) bool

// IsGranted implements PermissionChecker.
func (f PermissionCheckerFunc) IsGranted(permission Permission, item *Item) bool {
	return f(permission, item)
}

// Role groups permissions inside a workflow.
type Role struct {
	types.Element
	workflowName string
	permissions  []Permission
}

// NewRole creates a role for the named workflow.
func NewRole(name, workflowName string, opts ...types.ElementOption) *Role {
	return &Role{Element: types.NewElement(name, opts...), workflowName: workflowName}
}

// WorkflowName returns the owning workflow.
func (r *Role) WorkflowName() string {
	return r.workflowName
}

// Permission returns the permission identifying this role.
func (r *Role) Permission() Permission {
	return NewPermission(r.workflowName, r.Name())
}

// AddPermission grants an additional permission to the role.
func (r *Role) AddPermission(p Permission) {
	if !r.HasPermission(p) {
		r.permissions = append(r.permissions, p)
	}
}

// HasPermission reports whether the role holds p.
func (r *Role) HasPermission(p Permission) bool {
	if p == r.Permission() {
		return true
	}
	for _, own := range r.permissions {
		if own == p {
			return true
		}
	}
	return false
}

// Permissions returns the explicitly granted permissions.
func (r *Role) Permissions() []Permission {
	out := make([]Permission, len(r.permissions))
	copy(out, r.permissions)
	return out
}
