package domain

const (
	RequesterIdCtxKey     = "ck-requesterId"
	RequesterMethodCtxKey = "ck-requesterMethod"
)

// AuthMethod tells how a requester proved its identity.
type AuthMethod int

const (
	AuthMethodNone AuthMethod = iota
	AuthMethodSession
	AuthMethodFirebase
)

func (m AuthMethod) String() string {
	switch m {
	case AuthMethodSession:
		return "session"
	case AuthMethodFirebase:
		return "firebase"
	case AuthMethodNone:
		return "none"
	default:
		return "error"
	}
}
