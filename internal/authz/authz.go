// Package authz holds the declarative capability table: one mapping from
// (role, action) to allowed, consulted by the service before every
// mutation. Route-level role lists in httpapi only pre-filter; this table
// is the authority.
package authz

import "bartab/backend/internal/domain"

const (
	ActionOrderCreate   = "order.create"
	ActionOrderRead     = "order.read"
	ActionOrderEdit     = "order.edit"
	ActionOrderFinalize = "order.finalize"
	ActionOrderCancel   = "order.cancel"
	ActionCatalogManage = "catalog.manage"
	ActionStockReceive  = "stock.receive"
	ActionReportView    = "report.view"
	ActionAuditView     = "audit.view"
)

var capabilities = map[string]map[string]bool{
	domain.RoleServer: {
		ActionOrderCreate: true,
		ActionOrderRead:   true,
		ActionOrderEdit:   true,
	},
	domain.RoleCashier: {
		ActionOrderCreate:   true,
		ActionOrderRead:     true,
		ActionOrderEdit:     true,
		ActionOrderFinalize: true,
		ActionReportView:    true,
	},
	domain.RoleAdmin: {
		ActionOrderCreate:   true,
		ActionOrderRead:     true,
		ActionOrderEdit:     true,
		ActionOrderFinalize: true,
		ActionOrderCancel:   true,
		ActionCatalogManage: true,
		ActionStockReceive:  true,
		ActionReportView:    true,
		ActionAuditView:     true,
	},
}

// Allowed reports whether the given role may perform the action.
// Unknown roles and unknown actions are denied.
func Allowed(role, action string) bool {
	return capabilities[role][action]
}

// RolesFor returns every role the capability table allows for the action,
// in a stable order. Used by httpapi to build route guards from the same
// table the service enforces.
func RolesFor(action string) []string {
	var roles []string
	for _, role := range []string{domain.RoleAdmin, domain.RoleCashier, domain.RoleServer} {
		if capabilities[role][action] {
			roles = append(roles, role)
		}
	}
	return roles
}
