// Package policy holds the role catalog and the pure functions that derive a
// principal's effective role, permissions and quotas from it.
package policy

// Role is a ranked tag that determines a principal's default capabilities.
type Role string

// Recognized roles, most privileged first.
const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleModerator  Role = "moderator"
	RolePremium    Role = "premium"
	RoleUser       Role = "user"
	RoleGuest      Role = "guest"
)

// Permission is an opaque capability tag gating one class of operation.
type Permission string

// Permission vocabulary.
const (
	PermReadPublicContent  Permission = "read_public_content"
	PermCreateSession      Permission = "create_session"
	PermGenerateContent    Permission = "generate_content"
	PermAdvancedGeneration Permission = "advanced_generation"
	PermBatchGeneration    Permission = "batch_generation"
	PermExportData         Permission = "export_data"
	PermCustomTemplates    Permission = "custom_templates"
	PermViewUserActivity   Permission = "view_user_activity"
	PermModerateContent    Permission = "moderate_content"
	PermManageReports      Permission = "manage_reports"
	PermManageUsers        Permission = "manage_users"
	PermViewSystemStats    Permission = "view_system_stats"
	PermConfigureSystem    Permission = "configure_system"
	PermManageRoles        Permission = "manage_roles"
	PermAccessDatabase     Permission = "access_database"
	PermSystemMaintenance  Permission = "system_maintenance"
)

// AllPermissions returns every permission tag in vocabulary order.
func AllPermissions() []Permission {
	return []Permission{
		PermReadPublicContent,
		PermCreateSession,
		PermGenerateContent,
		PermAdvancedGeneration,
		PermBatchGeneration,
		PermExportData,
		PermCustomTemplates,
		PermViewUserActivity,
		PermModerateContent,
		PermManageReports,
		PermManageUsers,
		PermViewSystemStats,
		PermConfigureSystem,
		PermManageRoles,
		PermAccessDatabase,
		PermSystemMaintenance,
	}
}

// Principal is the authenticated caller. Roles are taken as declared by the
// authentication collaborator and may be empty, duplicated or unrecognized.
type Principal struct {
	ID    string
	Roles []Role
}

// GuestPrincipal is the implicit principal used when a request carries none.
func GuestPrincipal() Principal {
	return Principal{Roles: []Role{RoleGuest}}
}

// RolesFromStrings converts raw role names without validating or
// normalizing them.
func RolesFromStrings(values []string) []Role {
	roles := make([]Role, 0, len(values))
	for _, v := range values {
		roles = append(roles, Role(v))
	}
	return roles
}

// Strings converts roles back to their raw names.
func Strings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// ContainsRole reports whether target appears in roles.
func ContainsRole(roles []Role, target Role) bool {
	for _, r := range roles {
		if r == target {
			return true
		}
	}
	return false
}
