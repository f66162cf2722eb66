package cycle

import "errors"

// Role says which side of a linked pair a user is on. The cycle owner is the
// user whose body is tracked; the observer receives secondary notifications.
type Role string

const (
	RoleUnspecified Role = ""
	RoleOwner       Role = "owner"
	RoleObserver    Role = "observer"
)

// ErrAmbiguousPair is returned when a linked pair has zero or two claimed
// owners. Ambiguous pairings are surfaced, never resolved silently.
var ErrAmbiguousPair = errors.New("ambiguous partner roles")

// Party is the slice of a user record the resolver needs.
type Party struct {
	ID   string
	Role Role
}

// Pair is the resolved owner/observer assignment. Observer is nil for an
// unlinked owner; Owner is nil when no side holds the owner role.
type Pair struct {
	Owner    *Party
	Observer *Party
}

// ResolvePair decides which of {user, partner} is the cycle owner. partner
// is nil for unlinked users. Pure lookup; performs no mutation.
//
// When both or neither side claims the owner role the pairing is ambiguous:
// resolution still yields the queried user as owner if the user itself holds
// the role, otherwise the error stands alone.
func ResolvePair(user Party, partner *Party) (Pair, error) {
	if partner == nil {
		if user.Role == RoleOwner {
			return Pair{Owner: &user}, nil
		}
		return Pair{}, nil
	}

	userOwns := user.Role == RoleOwner
	partnerOwns := partner.Role == RoleOwner

	switch {
	case userOwns && !partnerOwns:
		return Pair{Owner: &user, Observer: partner}, nil
	case partnerOwns && !userOwns:
		return Pair{Owner: partner, Observer: &user}, nil
	case userOwns && partnerOwns:
		// Both claim the cycle; keep the queried side, flag the conflict.
		return Pair{Owner: &user, Observer: partner}, ErrAmbiguousPair
	default:
		return Pair{}, ErrAmbiguousPair
	}
}
