package session

// Identity is the authenticated user as the platform reports it.
type Identity struct {
	ID   string
	Name string
}

// Session is the explicit session context handed to controllers, the
// composer, and reaction aggregators.
type Session struct {
	identity Identity
}

// FromToken builds a session from a verified platform token.
func FromToken(secret []byte, token string) (*Session, error) {
	claims, err := ParseToken(secret, token)
	if err != nil {
		return nil, err
	}
	return &Session{identity: Identity{ID: claims.Sub, Name: claims.Name}}, nil
}

// New builds a session directly from an identity, for tests and local use.
func New(identity Identity) *Session {
	return &Session{identity: identity}
}

// CurrentUser returns the signed-in identity.
func (s *Session) CurrentUser() Identity {
	return s.identity
}
