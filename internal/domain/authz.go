package domain

import "context"

// Roles. Admin bypasses the capability map entirely.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
	RoleWaiter  = "waiter"
)

// Resources.
const (
	ResourceOrders    = "orders"
	ResourcePayments  = "payments"
	ResourceShifts    = "shifts"
	ResourceStock     = "stock"
	ResourcePurchases = "purchases"
	ResourceAudit     = "audit"
)

// Actions.
const (
	ActionRead     = "read"
	ActionCreate   = "create"
	ActionVoid     = "void"
	ActionTransfer = "transfer"
	ActionAdjust   = "adjust"
	ActionClose    = "close"
)

// CapabilityMap maps a resource to the set of actions a role may perform
// on it.
type CapabilityMap map[string][]string

// Actor is the authenticated caller, resolved from the access token.
type Actor struct {
	UserID      string
	TenantID    string
	Role        string
	Permissions CapabilityMap
}

// Authorize reports whether the actor may perform action on resource. Admins
// are always allowed; everyone else needs an explicit grant.
func Authorize(actor Actor, resource, action string) bool {
	if actor.Role == RoleAdmin {
		return true
	}
	for _, granted := range actor.Permissions[resource] {
		if granted == action {
			return true
		}
	}
	return false
}

// DefaultPermissions is the capability map assigned to each role when a
// tenant has not customized grants.
func DefaultPermissions(role string) CapabilityMap {
	switch role {
	case RoleManager:
		return CapabilityMap{
			ResourceOrders:    {ActionRead, ActionCreate, ActionVoid, ActionTransfer, ActionClose},
			ResourcePayments:  {ActionRead, ActionCreate},
			ResourceShifts:    {ActionRead, ActionCreate, ActionClose},
			ResourceStock:     {ActionRead, ActionAdjust},
			ResourcePurchases: {ActionRead, ActionCreate},
			ResourceAudit:     {ActionRead},
		}
	case RoleCashier:
		return CapabilityMap{
			ResourceOrders:   {ActionRead, ActionCreate, ActionClose},
			ResourcePayments: {ActionRead, ActionCreate},
			ResourceShifts:   {ActionRead, ActionCreate, ActionClose},
			ResourceStock:    {ActionRead},
		}
	case RoleWaiter:
		return CapabilityMap{
			ResourceOrders: {ActionRead, ActionCreate, ActionTransfer},
		}
	default:
		return CapabilityMap{}
	}
}

type actorContextKey struct{}

// WithActor stores the authenticated actor on the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor placed by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
