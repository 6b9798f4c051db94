// Package exposure computes a participant's worst-case conditional loss
// from the IOU ledger.
//
// Positive values are debt. For each contract c two accumulators are kept:
// exposure(c) from "if c" IOUs and negExposure(c) from "if not c" IOUs,
// with the issuer contributing +amount and the holder −amount. Settled
// (True) IOUs feed an unconditional balance instead. Void IOUs contribute
// nothing.
//
// The worst-case aggregation assumes at most one tracked contract can
// resolve true (candidates in a single election). Contracts that are not
// mutually exclusive with the rest make this bound optimistic; that
// modelling assumption is inherited deliberately and not papered over
// here.
package exposure

import (
	"sort"

	"github.com/atmx/range-exchange/internal/model"
)

// Exposure is the accumulated conditional position of one participant.
// It can be built by replaying the full IOU history (New + Apply per IOU)
// or maintained incrementally during a matching session; the two must
// agree, which the tests pin down.
type Exposure struct {
	participant string
	balance     int64
	exposure    map[string]int64
	negExposure map[string]int64
}

// New returns an empty exposure for the given participant.
func New(participant string) *Exposure {
	return &Exposure{
		participant: participant,
		exposure:    make(map[string]int64),
		negExposure: make(map[string]int64),
	}
}

// FromIOUs replays the full IOU history into a fresh exposure.
func FromIOUs(participant string, ious []model.IOU) *Exposure {
	e := New(participant)
	for i := range ious {
		e.Apply(ious[i])
	}
	return e
}

// Participant returns the participant this exposure belongs to.
func (e *Exposure) Participant() string {
	return e.participant
}

// Apply folds one IOU into the accumulators. IOUs not touching the
// participant are ignored, so applying the whole ledger is always safe.
func (e *Exposure) Apply(iou model.IOU) {
	var sign int64
	switch {
	case iou.Issuer == e.participant:
		sign = 1
	case iou.Holder == e.participant:
		sign = -1
	default:
		return
	}

	switch iou.Status {
	case model.StatusVoid:
		return
	case model.StatusTrue:
		e.balance += sign * iou.Amount
		return
	case model.StatusUnknown:
	}

	switch iou.Condition.Kind {
	case model.CondIf:
		e.exposure[iou.Condition.ContractID] += sign * iou.Amount
	case model.CondNot:
		e.negExposure[iou.Condition.ContractID] += sign * iou.Amount
	}
}

func (e *Exposure) exposureOf(contractID string) int64 {
	return e.exposure[contractID]
}

func (e *Exposure) negExposureOf(contractID string) int64 {
	return e.negExposure[contractID]
}

// Contracts lists every contract with a conditional position, sorted.
func (e *Exposure) Contracts() []string {
	seen := make(map[string]struct{}, len(e.exposure)+len(e.negExposure))
	for id := range e.exposure {
		seen[id] = struct{}{}
	}
	for id := range e.negExposure {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TotalNegExposure is the signed sum of all "not" positions plus the
// unconditional settled balance: the net debt realised if no tracked
// contract resolves true.
func (e *Exposure) TotalNegExposure() int64 {
	total := e.balance
	for _, amount := range e.negExposure {
		total += amount
	}
	return total
}

// worstNegExposure bounds the "not" side from above: per-contract assets
// are not counted, only debts, plus the unconditional balance.
func (e *Exposure) worstNegExposure() int64 {
	total := e.balance
	for _, amount := range e.negExposure {
		if amount > 0 {
			total += amount
		}
	}
	return total
}

// TotalExposureToContract is the net debt realised if contractID resolves
// true: the "if" position on it, plus every "not" position on the other
// contracts (which all resolve true too, under the one-winner assumption).
// This is the quantity bounded by the credit limit on the sell side.
func (e *Exposure) TotalExposureToContract(contractID string) int64 {
	return e.exposureOf(contractID) + e.TotalNegExposure() - e.negExposureOf(contractID)
}

// TotalExposureToContractNeg is the worst-case debt if contractID resolves
// false: all "not" debts may stand, and at most one other contract can
// still resolve true, so the single largest positive net "if" position
// among the others is added. Bounded by the credit limit on the buy side.
func (e *Exposure) TotalExposureToContractNeg(contractID string) int64 {
	worst := int64(0)
	for id, amount := range e.exposure {
		if id == contractID {
			continue
		}
		if net := amount - e.negExposureOf(id); net > worst {
			worst = net
		}
	}
	return e.worstNegExposure() + worst
}

// Outcome is the participant's signed P&L if contractID resolves true.
func (e *Exposure) Outcome(contractID string) int64 {
	return -e.TotalExposureToContract(contractID)
}

// OtherwiseOutcome is the P&L if none of the tracked contracts resolve
// true.
func (e *Exposure) OtherwiseOutcome() int64 {
	return -e.TotalNegExposure()
}

// BuyHeadroom is the amount of new buy-side obligation the participant
// can take on for contractID without breaching creditLimit.
func (e *Exposure) BuyHeadroom(creditLimit int64, contractID string) int64 {
	headroom := creditLimit - e.TotalExposureToContractNeg(contractID)
	if headroom < 0 {
		return 0
	}
	return headroom
}

// SellHeadroom is the amount of new sell-side obligation the participant
// can take on for contractID without breaching creditLimit.
func (e *Exposure) SellHeadroom(creditLimit int64, contractID string) int64 {
	headroom := creditLimit - e.TotalExposureToContract(contractID)
	if headroom < 0 {
		return 0
	}
	return headroom
}
