package providers

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-grants/storage"
)

// dummyPasswordHash is compared when a username is unknown so lookups take
// the same time whether or not the user exists
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// User is a resource owner known to UserStore.
type User struct {
	SubjectID string
	Username  string

	// PasswordHash is a bcrypt hash. Users without one cannot use the password grant.
	PasswordHash string

	// Active users may be issued tokens
	Active bool

	// Claims are the user's profile claims (name, email, role, ...)
	Claims []storage.Claim
}

// UserStore is an in-memory user directory implementing ProfileService and
// CredentialVerifier.
type UserStore struct {
	mu         sync.RWMutex
	bySubject  map[string]*User
	byUsername map[string]*User
}

var (
	_ ProfileService     = (*UserStore)(nil)
	_ CredentialVerifier = (*UserStore)(nil)
)

// NewUserStore creates a user directory. Subject ids and usernames must be unique.
func NewUserStore(users ...*User) (*UserStore, error) {
	s := &UserStore{
		bySubject:  make(map[string]*User),
		byUsername: make(map[string]*User),
	}
	for _, u := range users {
		if err := s.Add(u); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a user.
func (s *UserStore) Add(u *User) error {
	if u == nil || u.SubjectID == "" {
		return fmt.Errorf("subject id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.bySubject[u.SubjectID]; dup {
		return fmt.Errorf("duplicate subject id %q", u.SubjectID)
	}
	if u.Username != "" {
		if _, dup := s.byUsername[u.Username]; dup {
			return fmt.Errorf("duplicate username %q", u.Username)
		}
	}

	c := *u
	c.Claims = slices.Clone(u.Claims)
	s.bySubject[c.SubjectID] = &c
	if c.Username != "" {
		s.byUsername[c.Username] = &c
	}
	return nil
}

// SetActive enables or disables a user. Unknown subjects are ignored.
func (s *UserStore) SetActive(subjectID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.bySubject[subjectID]; ok {
		u.Active = active
	}
}

// IsActive reports whether the subject exists and is active.
func (s *UserStore) IsActive(_ context.Context, subjectID string, _ *storage.Client) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.bySubject[subjectID]
	return ok && u.Active, nil
}

// GetProfileData returns the user's claims filtered to the requested types.
// Unknown subjects have no claims.
func (s *UserStore) GetProfileData(_ context.Context, req ProfileDataRequest) ([]storage.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.bySubject[req.SubjectID]
	if !ok {
		return nil, nil
	}
	if req.AllClaims {
		return slices.Clone(u.Claims), nil
	}

	var out []storage.Claim
	for _, c := range u.Claims {
		if slices.Contains(req.ClaimTypes, c.Type) {
			out = append(out, c)
		}
	}
	return out, nil
}

// VerifyCredentials checks a username and password against an active user.
func (s *UserStore) VerifyCredentials(_ context.Context, username, password string) (string, error) {
	s.mu.RLock()
	u, ok := s.byUsername[username]
	s.mu.RUnlock()

	hash := dummyPasswordHash
	if ok && u.PasswordHash != "" {
		hash = u.PasswordHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if !ok || u.PasswordHash == "" || err != nil || !u.Active {
		return "", ErrInvalidCredentials
	}
	return u.SubjectID, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
