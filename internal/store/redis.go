package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/range-exchange/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the participant and contract catalogs. Writes go to the
// primary store and invalidate the cache; reads check Redis first then
// fall back to the primary. IOUs and bookkeeping records pass through:
// the ledger is replayed rarely and must never be stale.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	if err := s.primary.CreateParticipant(ctx, p); err != nil {
		return err
	}
	s.cacheJSON(ctx, participantKey(p.ID), p)
	return nil
}

func (s *CachedStore) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	if err := s.primary.UpdateParticipant(ctx, p); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, participantKey(p.ID))
	return nil
}

func (s *CachedStore) CreateContract(ctx context.Context, c *model.Contract) error {
	if err := s.primary.CreateContract(ctx, c); err != nil {
		return err
	}
	s.cacheJSON(ctx, contractKey(c.ID), c)
	return nil
}

func (s *CachedStore) CommitResolution(ctx context.Context, c *model.Contract, settled []model.IOU, participants []model.Participant) error {
	if err := s.primary.CommitResolution(ctx, c, settled, participants); err != nil {
		return err
	}
	keys := []string{contractKey(c.ID)}
	for i := range participants {
		keys = append(keys, participantKey(participants[i].ID))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	data, err := s.rdb.Get(ctx, participantKey(id)).Bytes()
	if err == nil {
		var p model.Participant
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetParticipant(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, participantKey(id), p)
	return p, nil
}

func (s *CachedStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	data, err := s.rdb.Get(ctx, contractKey(id)).Bytes()
	if err == nil {
		var c model.Contract
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, contractKey(id), c)
	return c, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	return s.primary.ListParticipants(ctx)
}

func (s *CachedStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	return s.primary.ListContracts(ctx)
}

func (s *CachedStore) GetIOU(ctx context.Context, id string) (*model.IOU, error) {
	return s.primary.GetIOU(ctx, id)
}

func (s *CachedStore) ListIOUs(ctx context.Context) ([]model.IOU, error) {
	return s.primary.ListIOUs(ctx)
}

func (s *CachedStore) CommitSession(ctx context.Context, minted []model.IOU) error {
	return s.primary.CommitSession(ctx, minted)
}

func (s *CachedStore) CommitSplit(ctx context.Context, parent *model.IOU, replacements []model.IOU) error {
	return s.primary.CommitSplit(ctx, parent, replacements)
}

func (s *CachedStore) PutRecord(ctx context.Context, r *model.Record) error {
	return s.primary.PutRecord(ctx, r)
}

func (s *CachedStore) GetRecord(ctx context.Context, kind, id string) (*model.Record, error) {
	return s.primary.GetRecord(ctx, kind, id)
}

func (s *CachedStore) ListRecords(ctx context.Context, kind string) ([]model.Record, error) {
	return s.primary.ListRecords(ctx, kind)
}

func (s *CachedStore) DeleteRecord(ctx context.Context, kind, id string) error {
	return s.primary.DeleteRecord(ctx, kind, id)
}

func (s *CachedStore) Counts(ctx context.Context) (map[string]int64, error) {
	return s.primary.Counts(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func participantKey(id string) string { return fmt.Sprintf("participant:%s", id) }
func contractKey(id string) string    { return fmt.Sprintf("contract:%s", id) }
