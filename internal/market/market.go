// Package market is the exchange core: the in-memory ledger of
// participants, contracts and IOUs, the operations that mutate it, and
// the host plumbing (request envelope, single-writer worker, HTTP
// handlers, WebSocket hub) that drives it.
//
// A Market is not safe for concurrent use. All mutation is funnelled
// through one Worker goroutine; reads from other goroutines are not
// permitted either, since sessions rewrite working state in place.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/range-exchange/internal/exposure"
	"github.com/atmx/range-exchange/internal/match"
	"github.com/atmx/range-exchange/internal/model"
	"github.com/atmx/range-exchange/internal/store"
)

// DefaultCreditLimit is the credit extended to a newly created
// participant before any explicit adjustment.
const DefaultCreditLimit = 1000

// Market owns the ledger. The store is the durable copy; every mutation
// writes through before the in-memory state is touched, so a failed
// write leaves the ledger unchanged.
type Market struct {
	store store.Store

	participants    map[string]model.Participant
	participantName map[string]string // name → ID
	contracts       map[string]model.Contract
	contractName    map[string]string // name → ID
	ious            []model.IOU
	iouIndex        map[string]int // ID → position in ious

	newID func() string
	now   func() time.Time
}

// New creates an empty Market over the given store. Call Hydrate before
// serving requests.
func New(st store.Store) *Market {
	return &Market{
		store:           st,
		participants:    make(map[string]model.Participant),
		participantName: make(map[string]string),
		contracts:       make(map[string]model.Contract),
		contractName:    make(map[string]string),
		iouIndex:        make(map[string]int),
		newID:           func() string { return uuid.New().String() },
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Hydrate loads the full ledger from the store.
func (m *Market) Hydrate(ctx context.Context) error {
	participants, err := m.store.ListParticipants(ctx)
	if err != nil {
		return fmt.Errorf("hydrate participants: %w", err)
	}
	contracts, err := m.store.ListContracts(ctx)
	if err != nil {
		return fmt.Errorf("hydrate contracts: %w", err)
	}
	ious, err := m.store.ListIOUs(ctx)
	if err != nil {
		return fmt.Errorf("hydrate ious: %w", err)
	}

	for _, p := range participants {
		m.participants[p.ID] = p
		m.participantName[p.Name] = p.ID
	}
	for _, c := range contracts {
		m.contracts[c.ID] = c
		m.contractName[c.Name] = c.ID
	}
	for _, iou := range ious {
		m.iouIndex[iou.ID] = len(m.ious)
		m.ious = append(m.ious, iou)
	}

	slog.Info("ledger hydrated",
		"participants", len(participants),
		"contracts", len(contracts),
		"ious", len(ious),
	)
	return nil
}

// --- Creation ---

// CreateContract registers a new unresolved contract.
func (m *Market) CreateContract(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", model.ErrInvalidName
	}
	if _, ok := m.contractName[name]; ok {
		return "", fmt.Errorf("contract %q: %w", name, model.ErrDuplicateName)
	}

	c := model.Contract{
		ID:         m.newID(),
		Name:       name,
		Resolution: model.Unresolved,
		CreatedAt:  m.now(),
	}
	if err := m.store.CreateContract(ctx, &c); err != nil {
		return "", err
	}
	m.contracts[c.ID] = c
	m.contractName[c.Name] = c.ID

	slog.Info("contract created", "id", c.ID, "name", c.Name)
	return c.ID, nil
}

// CreateParticipant registers a new participant with the default credit
// limit and no declared ranges.
func (m *Market) CreateParticipant(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", model.ErrInvalidName
	}
	if _, ok := m.participantName[name]; ok {
		return "", fmt.Errorf("participant %q: %w", name, model.ErrDuplicateName)
	}

	p := model.Participant{
		ID:          m.newID(),
		Name:        name,
		CreditLimit: DefaultCreditLimit,
		Ranges:      make(map[string]model.Range),
		CreatedAt:   m.now(),
	}
	if err := m.store.CreateParticipant(ctx, &p); err != nil {
		return "", err
	}
	m.participants[p.ID] = p
	m.participantName[p.Name] = p.ID

	slog.Info("participant created", "id", p.ID, "name", p.Name)
	return p.ID, nil
}

// --- Declarations and credit ---

// DeclareRanges replaces a participant's whole range set. Each range
// must target a distinct unresolved contract and satisfy
// 0 <= low < high <= 100.
func (m *Market) DeclareRanges(ctx context.Context, participantID string, decls []model.Range) error {
	p, ok := m.participants[participantID]
	if !ok {
		return model.ErrUnknownParticipant
	}

	ranges := make(map[string]model.Range, len(decls))
	for _, r := range decls {
		c, ok := m.contracts[r.ContractID]
		if !ok {
			return fmt.Errorf("range on %q: %w", r.ContractID, model.ErrUnknownContract)
		}
		if c.Resolution.Resolved() {
			return fmt.Errorf("range on %q: %w", c.Name, model.ErrContractResolved)
		}
		if r.Low < 0 || r.Low >= r.High || r.High > 100 {
			return fmt.Errorf("range (%d, %d) on %q: %w", r.Low, r.High, c.Name, model.ErrInvalidRange)
		}
		if _, dup := ranges[r.ContractID]; dup {
			return fmt.Errorf("duplicate range on %q: %w", c.Name, model.ErrInvalidRange)
		}
		ranges[r.ContractID] = r
	}

	p.Ranges = ranges
	if err := m.store.UpdateParticipant(ctx, &p); err != nil {
		return err
	}
	m.participants[p.ID] = p

	slog.Info("ranges declared", "participant", p.Name, "count", len(ranges))
	return nil
}

// AdjustCredit moves a participant's credit limit by delta. The limit
// never goes negative.
func (m *Market) AdjustCredit(ctx context.Context, participantID string, delta int64) error {
	p, ok := m.participants[participantID]
	if !ok {
		return model.ErrUnknownParticipant
	}
	limit := p.CreditLimit + delta
	if limit < 0 {
		return fmt.Errorf("limit %d%+d: %w", p.CreditLimit, delta, model.ErrNegativeCredit)
	}

	p.CreditLimit = limit
	if err := m.store.UpdateParticipant(ctx, &p); err != nil {
		return err
	}
	m.participants[p.ID] = p

	slog.Info("credit adjusted", "participant", p.Name, "delta", delta, "limit", limit)
	return nil
}

// --- Resolution ---

// ResolveContract settles a contract one way. Every Unknown IOU
// conditioned on it transitions per the settlement rule, and every
// participant's range on it is dropped. The whole effect commits
// atomically.
func (m *Market) ResolveContract(ctx context.Context, contractID string, outcome bool) error {
	c, ok := m.contracts[contractID]
	if !ok {
		return model.ErrUnknownContract
	}
	if c.Resolution.Resolved() {
		return fmt.Errorf("contract %q: %w", c.Name, model.ErrContractResolved)
	}
	if outcome {
		c.Resolution = model.ResolvedTrue
	} else {
		c.Resolution = model.ResolvedFalse
	}

	var settled []model.IOU
	for _, iou := range m.ious {
		if iou.Status == model.StatusUnknown && iou.Condition.ContractID == contractID {
			iou.Status = model.TransitionStatus(iou.Condition.Kind, outcome)
			settled = append(settled, iou)
		}
	}

	var touched []model.Participant
	for _, p := range m.participants {
		if _, ok := p.Ranges[contractID]; !ok {
			continue
		}
		ranges := make(map[string]model.Range, len(p.Ranges)-1)
		for id, r := range p.Ranges {
			if id != contractID {
				ranges[id] = r
			}
		}
		p.Ranges = ranges
		touched = append(touched, p)
	}

	if err := m.store.CommitResolution(ctx, &c, settled, touched); err != nil {
		return err
	}

	m.contracts[c.ID] = c
	for _, iou := range settled {
		m.ious[m.iouIndex[iou.ID]] = iou
	}
	for _, p := range touched {
		m.participants[p.ID] = p
	}

	slog.Info("contract resolved",
		"contract", c.Name,
		"outcome", outcome,
		"settled_ious", len(settled),
	)
	return nil
}

// --- Sessions ---

// RunSession matches all crossed quotes to a fixed point and commits the
// minted IOUs all-or-nothing. On an invariant violation nothing is
// persisted and the in-memory ledger is untouched.
func (m *Market) RunSession(ctx context.Context) (*model.SessionReport, error) {
	res, err := match.Run(m.participants, m.contracts, m.ious, m.newID, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.store.CommitSession(ctx, res.IOUs); err != nil {
		return nil, err
	}
	for _, iou := range res.IOUs {
		m.iouIndex[iou.ID] = len(m.ious)
		m.ious = append(m.ious, iou)
	}

	slog.Info("session complete",
		"trades", len(res.Report.Trades),
		"ious_minted", len(res.IOUs),
	)
	return &res.Report, nil
}

// Outcomes reports a participant's signed P&L per tracked contract, plus
// the P&L if none of them resolve true.
func (m *Market) Outcomes(participantID string) (*model.OutcomeReport, error) {
	p, ok := m.participants[participantID]
	if !ok {
		return nil, model.ErrUnknownParticipant
	}
	exp := exposure.FromIOUs(participantID, m.ious)

	report := &model.OutcomeReport{
		Participant: p.ID,
		ByContract:  make(map[string]int64),
		Otherwise:   exp.OtherwiseOutcome(),
	}
	for _, contractID := range exp.Contracts() {
		report.ByContract[contractID] = exp.Outcome(contractID)
	}
	return report, nil
}

// --- IOU updates ---

// SplitIOU voids an Unknown IOU and reissues it as one IOU per share,
// same issuer and condition, with amounts summing exactly to the parent.
// Used to transfer part or all of a debt to new holders.
func (m *Market) SplitIOU(ctx context.Context, iouID string, shares map[string]int64) error {
	idx, ok := m.iouIndex[iouID]
	if !ok {
		return model.ErrUnknownIOU
	}
	parent := m.ious[idx]
	if parent.Status != model.StatusUnknown {
		return fmt.Errorf("iou %s is %s: %w", parent.ID, parent.Status, model.ErrIOUSettled)
	}
	if len(shares) == 0 {
		return model.ErrInvalidSplit
	}
	var total int64
	for holder, amount := range shares {
		if amount <= 0 {
			return fmt.Errorf("share %d for %q: %w", amount, holder, model.ErrInvalidSplit)
		}
		if _, ok := m.participants[holder]; !ok {
			return fmt.Errorf("holder %q: %w", holder, model.ErrUnknownParticipant)
		}
		total += amount
	}
	if total != parent.Amount {
		return fmt.Errorf("shares sum %d != amount %d: %w", total, parent.Amount, model.ErrInvalidSplit)
	}

	// Deterministic issue order for the replacements.
	holders := make([]string, 0, len(shares))
	for holder := range shares {
		holders = append(holders, holder)
	}
	sort.Strings(holders)

	now := m.now()
	replacements := make([]model.IOU, 0, len(holders))
	for _, holder := range holders {
		replacements = append(replacements, model.IOU{
			ID:        m.newID(),
			Issuer:    parent.Issuer,
			Holder:    holder,
			Condition: parent.Condition,
			Amount:    shares[holder],
			Status:    model.StatusUnknown,
			SplitFrom: parent.ID,
			CreatedAt: now,
		})
	}

	parent.Status = model.StatusVoid
	if err := m.store.CommitSplit(ctx, &parent, replacements); err != nil {
		return err
	}
	m.ious[idx] = parent
	for _, iou := range replacements {
		m.iouIndex[iou.ID] = len(m.ious)
		m.ious = append(m.ious, iou)
	}

	slog.Info("iou split", "iou", parent.ID, "shares", len(replacements))
	return nil
}

// VoidIOU cancels an Unknown IOU outright.
func (m *Market) VoidIOU(ctx context.Context, iouID string) error {
	idx, ok := m.iouIndex[iouID]
	if !ok {
		return model.ErrUnknownIOU
	}
	iou := m.ious[idx]
	if iou.Status != model.StatusUnknown {
		return fmt.Errorf("iou %s is %s: %w", iou.ID, iou.Status, model.ErrIOUSettled)
	}

	iou.Status = model.StatusVoid
	if err := m.store.CommitSplit(ctx, &iou, nil); err != nil {
		return err
	}
	m.ious[idx] = iou

	slog.Info("iou voided", "iou", iou.ID)
	return nil
}

// --- Reads ---

// Participant returns one participant by ID.
func (m *Market) Participant(id string) (model.Participant, error) {
	p, ok := m.participants[id]
	if !ok {
		return model.Participant{}, model.ErrUnknownParticipant
	}
	return p, nil
}

// ParticipantByName resolves a participant by name.
func (m *Market) ParticipantByName(name string) (model.Participant, error) {
	id, ok := m.participantName[name]
	if !ok {
		return model.Participant{}, model.ErrUnknownParticipant
	}
	return m.participants[id], nil
}

// Contract returns one contract by ID.
func (m *Market) Contract(id string) (model.Contract, error) {
	c, ok := m.contracts[id]
	if !ok {
		return model.Contract{}, model.ErrUnknownContract
	}
	return c, nil
}

// ContractByName resolves a contract by name.
func (m *Market) ContractByName(name string) (model.Contract, error) {
	id, ok := m.contractName[name]
	if !ok {
		return model.Contract{}, model.ErrUnknownContract
	}
	return m.contracts[id], nil
}

// Participants lists all participants, name order.
func (m *Market) Participants() []model.Participant {
	out := make([]model.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Contracts lists all contracts, name order.
func (m *Market) Contracts() []model.Contract {
	out := make([]model.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IOUs lists every IOU in issue order.
func (m *Market) IOUs() []model.IOU {
	out := make([]model.IOU, len(m.ious))
	copy(out, m.ious)
	return out
}

// IOU returns one IOU by ID.
func (m *Market) IOU(id string) (model.IOU, error) {
	idx, ok := m.iouIndex[id]
	if !ok {
		return model.IOU{}, model.ErrUnknownIOU
	}
	return m.ious[idx], nil
}

// --- Bookkeeping records ---

// PutRecord stores a bookkeeping item under (kind, id).
func (m *Market) PutRecord(ctx context.Context, r *model.Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	return m.store.PutRecord(ctx, r)
}

// Record fetches one bookkeeping item.
func (m *Market) Record(ctx context.Context, kind, id string) (*model.Record, error) {
	r, err := m.store.GetRecord(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrUnknownRecord
	}
	return r, err
}

// Records lists all bookkeeping items of one kind.
func (m *Market) Records(ctx context.Context, kind string) ([]model.Record, error) {
	return m.store.ListRecords(ctx, kind)
}

// DeleteRecord removes one bookkeeping item.
func (m *Market) DeleteRecord(ctx context.Context, kind, id string) error {
	return m.store.DeleteRecord(ctx, kind, id)
}
