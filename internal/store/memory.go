package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/range-exchange/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[string]*model.Participant
	contracts    map[string]*model.Contract
	iouOrder     []string
	ious         map[string]*model.IOU
	records      map[string]*model.Record // keyed kind + "/" + id
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[string]*model.Participant),
		contracts:    make(map[string]*model.Contract),
		ious:         make(map[string]*model.IOU),
		records:      make(map[string]*model.Record),
	}
}

func copyParticipant(p *model.Participant) *model.Participant {
	cp := *p
	cp.Ranges = make(map[string]model.Range, len(p.Ranges))
	for k, v := range p.Ranges {
		cp.Ranges[k] = v
	}
	return &cp
}

func (s *MemoryStore) CreateParticipant(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.ID]; ok {
		return fmt.Errorf("participant %s already exists", p.ID)
	}
	s.participants[p.ID] = copyParticipant(p)
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, id string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyParticipant(p), nil
}

func (s *MemoryStore) ListParticipants(_ context.Context) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *copyParticipant(p))
	}
	return out, nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.ID]; !ok {
		return ErrNotFound
	}
	s.participants[p.ID] = copyParticipant(p)
	return nil
}

func (s *MemoryStore) CreateContract(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[c.ID]; ok {
		return fmt.Errorf("contract %s already exists", c.ID)
	}
	cp := *c
	s.contracts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListContracts(_ context.Context) ([]model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, *c)
	}
	return out, nil
}

func (s *MemoryStore) GetIOU(_ context.Context, id string) (*model.IOU, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iou, ok := s.ious[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *iou
	return &cp, nil
}

func (s *MemoryStore) ListIOUs(_ context.Context) ([]model.IOU, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.IOU, 0, len(s.iouOrder))
	for _, id := range s.iouOrder {
		out = append(out, *s.ious[id])
	}
	return out, nil
}

func (s *MemoryStore) insertIOU(iou model.IOU) {
	s.ious[iou.ID] = &iou
	s.iouOrder = append(s.iouOrder, iou.ID)
}

func (s *MemoryStore) CommitSession(_ context.Context, minted []model.IOU) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, iou := range minted {
		s.insertIOU(iou)
	}
	return nil
}

func (s *MemoryStore) CommitResolution(_ context.Context, c *model.Contract, settled []model.IOU, participants []model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	s.contracts[c.ID] = &cp
	for _, iou := range settled {
		if _, ok := s.ious[iou.ID]; !ok {
			return ErrNotFound
		}
		stored := iou
		s.ious[iou.ID] = &stored
	}
	for i := range participants {
		s.participants[participants[i].ID] = copyParticipant(&participants[i])
	}
	return nil
}

func (s *MemoryStore) CommitSplit(_ context.Context, parent *model.IOU, replacements []model.IOU) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ious[parent.ID]; !ok {
		return ErrNotFound
	}
	cp := *parent
	s.ious[parent.ID] = &cp
	for _, iou := range replacements {
		s.insertIOU(iou)
	}
	return nil
}

func recordKey(kind, id string) string { return kind + "/" + id }

func (s *MemoryStore) PutRecord(_ context.Context, r *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.records[recordKey(r.Kind, r.ID)] = &cp
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, kind, id string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[recordKey(kind, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, kind string) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Record
	for _, r := range s.records {
		if r.Kind == kind {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(kind, id)
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Counts(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[string]int64{
		"participants": int64(len(s.participants)),
		"contracts":    int64(len(s.contracts)),
		"ious":         int64(len(s.ious)),
		"records":      int64(len(s.records)),
	}
	return counts, nil
}
