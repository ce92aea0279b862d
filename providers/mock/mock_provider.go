// Package mock provides a mock implementation of the ProfileService interface for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oidc-grants/providers"
	"github.com/giantswarm/oidc-grants/storage"
)

// ProfileService is a mock implementation of providers.ProfileService.
// By default every subject is active and has no profile claims.
type ProfileService struct {
	// IsActiveFunc is called when IsActive() is invoked
	IsActiveFunc func(ctx context.Context, subjectID string, client *storage.Client) (bool, error)

	// GetProfileDataFunc is called when GetProfileData() is invoked
	GetProfileDataFunc func(ctx context.Context, req providers.ProfileDataRequest) ([]storage.Claim, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// Requests records every profile data request in call order
	Requests []providers.ProfileDataRequest

	mu sync.RWMutex
}

var _ providers.ProfileService = (*ProfileService)(nil)

// NewProfileService creates a mock returning claims for every subject it is asked about
func NewProfileService(claims ...storage.Claim) *ProfileService {
	return &ProfileService{
		CallCounts: make(map[string]int),
		IsActiveFunc: func(context.Context, string, *storage.Client) (bool, error) {
			return true, nil
		},
		GetProfileDataFunc: func(_ context.Context, req providers.ProfileDataRequest) ([]storage.Claim, error) {
			if req.AllClaims {
				return claims, nil
			}
			var out []storage.Claim
			for _, c := range claims {
				for _, t := range req.ClaimTypes {
					if c.Type == t {
						out = append(out, c)
						break
					}
				}
			}
			return out, nil
		},
	}
}

// IsActive reports whether the subject is active
func (m *ProfileService) IsActive(ctx context.Context, subjectID string, client *storage.Client) (bool, error) {
	// Release the lock before calling user functions, which may call back into the mock
	m.mu.Lock()
	m.CallCounts["IsActive"]++
	fn := m.IsActiveFunc
	m.mu.Unlock()

	if fn == nil {
		return true, nil
	}
	return fn(ctx, subjectID, client)
}

// GetProfileData returns profile claims for the subject
func (m *ProfileService) GetProfileData(ctx context.Context, req providers.ProfileDataRequest) ([]storage.Claim, error) {
	m.mu.Lock()
	m.CallCounts["GetProfileData"]++
	m.Requests = append(m.Requests, req)
	fn := m.GetProfileDataFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(ctx, req)
}

// ResetCallCounts resets all call counters
func (m *ProfileService) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.Requests = nil
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *ProfileService) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
