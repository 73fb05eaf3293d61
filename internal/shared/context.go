package shared

import "context"

// Role identifies the principal's role as asserted by the identity gateway.
type Role string

const (
	RoleAdmin      Role = "admin"
	RolePharmacist Role = "pharmacist"
	RoleDoctor     Role = "doctor"
	RoleNurse      Role = "nurse"
)

// Principal is the authenticated user forwarded by the identity collaborator.
type Principal struct {
	ID   int64
	Role Role
}

// CanManageStock reports whether the principal may move stock: receive,
// issue, complete transfers or dispense.
func (p Principal) CanManageStock() bool {
	return p.Role == RoleAdmin || p.Role == RolePharmacist
}

// CanEditCart reports whether the principal may alter cart contents.
// Doctors are additionally limited to their own prescriptions; the cart
// service enforces that part.
func (p Principal) CanEditCart() bool {
	return p.Role == RoleAdmin || p.Role == RoleDoctor
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
