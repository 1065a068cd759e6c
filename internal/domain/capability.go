package domain

// Capability is a permission checked explicitly inside service operations.
type Capability string

const (
	CapUser     Capability = "user"
	CapModerate Capability = "moderate"
	CapAdmin    Capability = "admin"
)

// Can reports whether role grants capability.
func (r Role) Can(capability Capability) bool {
	switch capability {
	case CapUser:
		return r.Valid()
	case CapModerate:
		return r == RoleReferee || r == RoleAdmin
	case CapAdmin:
		return r == RoleAdmin
	}
	return false
}

// Authorize returns ErrForbidden unless the caller's role grants capability.
func Authorize(caller Caller, capability Capability) error {
	if !caller.Role.Can(capability) {
		return NewError(KindForbidden, "missing capability: "+string(capability))
	}
	return nil
}
