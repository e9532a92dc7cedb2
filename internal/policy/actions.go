package policy

// Named actions understood by ActionPermission.
const (
	ActionGenerateCharacter  = "generate_character"
	ActionGenerateStory      = "generate_story"
	ActionGenerateWorld      = "generate_world"
	ActionStartSession       = "start_session"
	ActionAdvancedGeneration = "advanced_generation"
	ActionBatchGenerate      = "batch_generate"
	ActionExportData         = "export_data"
	ActionCustomTemplate     = "custom_template"
	ActionViewActivity       = "view_activity"
	ActionModerateContent    = "moderate_content"
	ActionManageReports      = "manage_reports"
	ActionManageUsers        = "manage_users"
	ActionViewStats          = "view_stats"
	ActionConfigureSystem    = "configure_system"
	ActionManageRoles        = "manage_roles"
)

// DefaultActions maps the platform's named actions to the permission that
// gates them.
func DefaultActions() map[string]Permission {
	return map[string]Permission{
		ActionGenerateCharacter:  PermGenerateContent,
		ActionGenerateStory:      PermGenerateContent,
		ActionGenerateWorld:      PermGenerateContent,
		ActionStartSession:       PermCreateSession,
		ActionAdvancedGeneration: PermAdvancedGeneration,
		ActionBatchGenerate:      PermBatchGeneration,
		ActionExportData:         PermExportData,
		ActionCustomTemplate:     PermCustomTemplates,
		ActionViewActivity:       PermViewUserActivity,
		ActionModerateContent:    PermModerateContent,
		ActionManageReports:      PermManageReports,
		ActionManageUsers:        PermManageUsers,
		ActionViewStats:          PermViewSystemStats,
		ActionConfigureSystem:    PermConfigureSystem,
		ActionManageRoles:        PermManageRoles,
	}
}

// ActionPermission returns the permission gating action. Unmapped actions
// report false and must be treated as denied.
func (c *Catalog) ActionPermission(action string) (Permission, bool) {
	p, ok := c.actions[action]
	return p, ok
}

// CanPerformAction reports whether roles may perform action. Unknown actions
// are always denied.
func (c *Catalog) CanPerformAction(roles []Role, action string) bool {
	p, ok := c.ActionPermission(action)
	if !ok {
		return false
	}
	return c.HasPermission(roles, p)
}
