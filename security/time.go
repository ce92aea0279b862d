package security

import "time"

// DefaultClockSkew is tolerated between this server and token consumers when
// checking nbf and exp of self-contained tokens.
const DefaultClockSkew = 5 * time.Minute

// IsExpired reports whether expiresAt lies more than skew before now.
// A zero expiresAt never expires.
func IsExpired(now, expiresAt time.Time, skew time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(skew))
}

// IsNotYetValid reports whether notBefore lies more than skew after now.
func IsNotYetValid(now, notBefore time.Time, skew time.Duration) bool {
	if notBefore.IsZero() {
		return false
	}
	return now.Add(skew).Before(notBefore)
}

// Clock returns the current time. Components accept a Clock so tests can pin time.
type Clock func() time.Time

// Now returns c() or time.Now when c is nil.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
