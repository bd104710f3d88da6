package domain

type IdentityKind string

const (
	IdentityAuthenticated IdentityKind = "authenticated"
	IdentityGuest         IdentityKind = "guest"
)

// Identity is the resolved identity of a connected session. It is decided
// once at handshake time and passed opaquely through the rest of the
// pipeline; nothing downstream re-checks credentials.
type Identity struct {
	Kind   IdentityKind `json:"kind"`
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Avatar string       `json:"avatar,omitempty"`
}

func AuthenticatedIdentity(u *User) Identity {
	return Identity{Kind: IdentityAuthenticated, ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

func GuestIdentity(id, name string) Identity {
	return Identity{Kind: IdentityGuest, ID: id, Name: name}
}

func (i Identity) IsGuest() bool {
	return i.Kind == IdentityGuest
}

// UserID returns the stable user ID for access checks. Guests have no
// persisted user, so this is empty for them.
func (i Identity) UserID() string {
	if i.IsGuest() {
		return ""
	}
	return i.ID
}
