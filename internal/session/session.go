package session

// State is the authentication state of a Session.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Credential is the bearer token plus the email it was issued for.
// A credential exists iff the session is authenticated.
type Credential struct {
	Token string
	Email string
}

// Session is the current identity, derived solely from the stored
// credential. It is never mutated independently of the credential.
type Session struct {
	State       State
	Email       string
	CompanyName string
}
