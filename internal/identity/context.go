package identity

import "context"

// Role is the profile type an authenticated user acts as.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

// Caller is the resolved identity behind a request or socket.
type Caller struct {
	UserID    string
	Role      Role
	ProfileID string
}

// IsPatient reports whether the caller acts through a patient profile.
func (c Caller) IsPatient() bool { return c.Role == RolePatient && c.ProfileID != "" }

// IsDoctor reports whether the caller acts through a doctor profile.
func (c Caller) IsDoctor() bool { return c.Role == RoleDoctor && c.ProfileID != "" }

// Room is the personal fan-out room for this caller.
func (c Caller) Room() string { return UserRoom(c.Role, c.ProfileID) }

// UserRoom names the personal room of a profile.
func UserRoom(role Role, profileID string) string {
	return "user:" + string(role) + ":" + profileID
}

type ctxKey string

const callerKey ctxKey = "clinic.caller"

// WithCaller stores the caller in context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext extracts the caller if present.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	val := ctx.Value(callerKey)
	if val == nil {
		return Caller{}, false
	}
	caller, ok := val.(Caller)
	return caller, ok && caller.UserID != ""
}
