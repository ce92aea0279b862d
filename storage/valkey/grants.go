package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oidc-grants/internal/util"
	"github.com/giantswarm/oidc-grants/storage"
)

// luaTakeGrant reads and deletes a grant in one step.
// SECURITY: Scripts run atomically, so only ONE concurrent caller receives the grant.
const luaTakeGrant = `
local data = redis.call('GET', KEYS[1])
if not data then
	return 'NOT_FOUND'
end
redis.call('DEL', KEYS[1])
return data
`

// luaIndexGrant adds ARGV[1] to every index set in KEYS and keeps each set
// alive at least as long as its longest-lived member. ARGV[2] is the member
// TTL in milliseconds; 0 means the member never expires.
const luaIndexGrant = `
local ttl = tonumber(ARGV[2])
for _, key in ipairs(KEYS) do
	local existed = redis.call('EXISTS', key) == 1
	local current = redis.call('PTTL', key)
	redis.call('SADD', key, ARGV[1])
	if ttl <= 0 then
		redis.call('PERSIST', key)
	elseif not existed or (current >= 0 and current < ttl) then
		redis.call('PEXPIRE', key, ttl)
	end
end
return 1
`

// Store saves the grant with a TTL matching its expiration and indexes it by subject.
func (s *Store) Store(ctx context.Context, grant *storage.PersistedGrant) error {
	ctx, span := s.startStorageSpan(ctx, "store")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "store", err, startTime)
	}()

	if err = grant.Validate(); err != nil {
		return err
	}
	if len(grant.Key) > MaxKeyLength || len(grant.SubjectID) > MaxKeyLength || len(grant.ClientID) > MaxKeyLength {
		err = errInputTooLarge
		return err
	}

	data, err := json.Marshal(grant)
	if err != nil {
		err = fmt.Errorf("failed to marshal grant: %w", err)
		return err
	}
	if len(data) > MaxGrantDataSize {
		err = errInputTooLarge
		return err
	}

	key := s.grantKey(grant.Key)
	set := s.client.B().Set().Key(key).Value(string(data))
	var (
		cmd valkeygo.Completed
		ttl time.Duration
	)
	if grant.Expiration.IsZero() {
		cmd = set.Build()
	} else {
		ttl = calculateTTL(time.Now(), grant.Expiration)
		cmd = set.Ex(ttl).Build()
	}

	cmds := valkeygo.Commands{cmd}
	if grant.SubjectID != "" {
		cmds = append(cmds, s.client.B().Eval().Script(luaIndexGrant).
			Numkeys(2).
			Key(s.subjectKey(grant.SubjectID), s.subjectClientKey(grant.SubjectID, grant.ClientID)).
			Arg(grant.Key).
			Arg(strconv.FormatInt(ttl.Milliseconds(), 10)).
			Build())
	}

	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if rerr := resp.Error(); rerr != nil {
			err = fmt.Errorf("failed to store grant: %w", rerr)
			return err
		}
	}

	s.logger.Debug("Stored grant",
		"type", grant.Type,
		"client_id", grant.ClientID,
		"key_prefix", util.SafeTruncate(grant.Key, keyLogLength))

	return nil
}

// Get returns the grant stored under key
func (s *Store) Get(ctx context.Context, key string) (*storage.PersistedGrant, error) {
	ctx, span := s.startStorageSpan(ctx, "get")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get", err, startTime)
	}()

	if len(key) > MaxKeyLength {
		err = storage.ErrGrantNotFound
		return nil, err
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.grantKey(key)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			err = storage.ErrGrantNotFound
			return nil, err
		}
		err = fmt.Errorf("failed to get grant: %w", err)
		return nil, err
	}

	grant, err := decodeGrant(data)
	return grant, err
}

// GetAll returns every grant of subjectID. Index entries whose grant has
// expired are pruned along the way.
func (s *Store) GetAll(ctx context.Context, subjectID string) ([]*storage.PersistedGrant, error) {
	ctx, span := s.startStorageSpan(ctx, "get_all")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_all", err, startTime)
	}()

	var grants []*storage.PersistedGrant
	grants, err = s.loadIndexed(ctx, s.subjectKey(subjectID))
	return grants, err
}

// Remove deletes the grant stored under key
func (s *Store) Remove(ctx context.Context, key string) error {
	ctx, span := s.startStorageSpan(ctx, "remove")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "remove", err, startTime)
	}()

	grant, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrGrantNotFound) {
			err = nil
		}
		return err
	}

	err = s.deleteGrants(ctx, []*storage.PersistedGrant{grant})
	return err
}

// RemoveAll deletes every grant of subjectID issued to clientID
func (s *Store) RemoveAll(ctx context.Context, subjectID, clientID string) error {
	return s.removeMatching(ctx, "remove_all", subjectID, clientID, func(*storage.PersistedGrant) bool { return true })
}

// RemoveAllByType deletes every grant of grantType of subjectID issued to clientID
func (s *Store) RemoveAllByType(ctx context.Context, subjectID, clientID string, grantType storage.GrantType) error {
	return s.removeMatching(ctx, "remove_all_by_type", subjectID, clientID, func(g *storage.PersistedGrant) bool {
		return g.Type == grantType
	})
}

// Take atomically returns and deletes the grant stored under key.
func (s *Store) Take(ctx context.Context, key string) (*storage.PersistedGrant, error) {
	ctx, span := s.startStorageSpan(ctx, "take")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "take", err, startTime)
	}()

	if len(key) > MaxKeyLength {
		err = storage.ErrGrantNotFound
		return nil, err
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaTakeGrant).
			Numkeys(1).
			Key(s.grantKey(key)).
			Build(),
	).ToString()
	if err != nil {
		err = fmt.Errorf("failed to execute atomic take: %w", err)
		return nil, err
	}
	if result == "NOT_FOUND" {
		err = storage.ErrGrantNotFound
		return nil, err
	}

	grant, err := decodeGrant(result)
	if err != nil {
		return nil, err
	}

	// Index cleanup is best effort; readers skip members without a grant.
	s.unindex(ctx, []*storage.PersistedGrant{grant})

	s.logger.Debug("Took grant",
		"type", grant.Type,
		"key_prefix", util.SafeTruncate(key, keyLogLength))

	return grant, nil
}

func (s *Store) removeMatching(ctx context.Context, operation, subjectID, clientID string, match func(*storage.PersistedGrant) bool) error {
	ctx, span := s.startStorageSpan(ctx, operation)
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, operation, err, startTime)
	}()

	grants, err := s.loadIndexed(ctx, s.subjectClientKey(subjectID, clientID))
	if err != nil {
		return err
	}

	var matched []*storage.PersistedGrant
	for _, g := range grants {
		if g.ClientID == clientID && match(g) {
			matched = append(matched, g)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	if err = s.deleteGrants(ctx, matched); err != nil {
		return err
	}

	s.logger.Debug("Removed grants",
		"operation", operation,
		"client_id", clientID,
		"count", len(matched))
	return nil
}

// loadIndexed loads every grant referenced by the index set at indexKey.
func (s *Store) loadIndexed(ctx context.Context, indexKey string) ([]*storage.PersistedGrant, error) {
	members, err := s.client.Do(ctx, s.client.B().Smembers().Key(indexKey).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read grant index: %w", err)
	}
	if len(members) == 0 {
		return []*storage.PersistedGrant{}, nil
	}

	cmds := make(valkeygo.Commands, 0, len(members))
	for _, m := range members {
		cmds = append(cmds, s.client.B().Get().Key(s.grantKey(m)).Build())
	}

	grants := make([]*storage.PersistedGrant, 0, len(members))
	var stale []string
	for i, resp := range s.client.DoMulti(ctx, cmds...) {
		data, err := resp.ToString()
		if err != nil {
			if isNilError(err) {
				stale = append(stale, members[i])
				continue
			}
			return nil, fmt.Errorf("failed to get grant: %w", err)
		}
		grant, err := decodeGrant(data)
		if err != nil {
			s.logger.Warn("Skipping undecodable grant",
				"key_prefix", util.SafeTruncate(members[i], keyLogLength),
				"error", err)
			continue
		}
		grants = append(grants, grant)
	}

	if len(stale) > 0 {
		if err := s.client.Do(ctx, s.client.B().Srem().Key(indexKey).Member(stale...).Build()).Error(); err != nil {
			s.logger.Warn("Failed to prune grant index", "error", err)
		}
	}

	return grants, nil
}

func (s *Store) deleteGrants(ctx context.Context, grants []*storage.PersistedGrant) error {
	keys := make([]string, 0, len(grants))
	for _, g := range grants {
		keys = append(keys, s.grantKey(g.Key))
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete grants: %w", err)
	}
	s.unindex(ctx, grants)
	return nil
}

func (s *Store) unindex(ctx context.Context, grants []*storage.PersistedGrant) {
	var cmds valkeygo.Commands
	for _, g := range grants {
		if g.SubjectID == "" {
			continue
		}
		cmds = append(cmds,
			s.client.B().Srem().Key(s.subjectKey(g.SubjectID)).Member(g.Key).Build(),
			s.client.B().Srem().Key(s.subjectClientKey(g.SubjectID, g.ClientID)).Member(g.Key).Build(),
		)
	}
	if len(cmds) == 0 {
		return
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			s.logger.Warn("Failed to update grant index", "error", err)
		}
	}
}

func decodeGrant(data string) (*storage.PersistedGrant, error) {
	var grant storage.PersistedGrant
	if err := json.Unmarshal([]byte(data), &grant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}
	return &grant, nil
}
