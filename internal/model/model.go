// Package model defines the core domain types shared across the range
// exchange. All monetary amounts are integer currency units and all
// prices are integer percentages in (0,100); the matching arithmetic is
// integer-exact, so float64 and decimals stay out of the core.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Resolution is the lifecycle state of a contract. Transitions are one-way:
// Unresolved → ResolvedTrue | ResolvedFalse, never back.
type Resolution int

const (
	Unresolved Resolution = iota
	ResolvedTrue
	ResolvedFalse
)

func (r Resolution) String() string {
	switch r {
	case Unresolved:
		return "unresolved"
	case ResolvedTrue:
		return "resolved-true"
	case ResolvedFalse:
		return "resolved-false"
	}
	return "invalid"
}

// Resolved reports whether the contract has settled either way.
func (r Resolution) Resolved() bool {
	return r != Unresolved
}

// Contract is a binary-outcome proposition being traded.
type Contract struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Resolution Resolution `json:"resolution" db:"resolution"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Range is a participant's declared belief bounds for one contract:
// a bid is quoted at Low and an ask at High, with 0 <= Low < High <= 100.
type Range struct {
	ContractID string `json:"contract_id" db:"contract_id"`
	Low        int64  `json:"low" db:"low"`
	High       int64  `json:"high" db:"high"`
}

// Participant is a trader with a credit limit and, per unresolved
// contract, at most one declared range. Ranges is keyed by contract ID
// and is replaced wholesale on re-declaration.
type Participant struct {
	ID          string           `json:"id" db:"id"`
	Name        string           `json:"name" db:"name"`
	CreditLimit int64            `json:"credit_limit" db:"credit_limit"`
	Ranges      map[string]Range `json:"ranges"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// CondKind tags the two branches of a conditional obligation.
type CondKind int

const (
	// CondIf: the obligation stands if the contract resolves true.
	CondIf CondKind = iota
	// CondNot: the obligation stands if the contract resolves false.
	CondNot
)

func (k CondKind) String() string {
	if k == CondIf {
		return "if"
	}
	return "not"
}

// Condition names the contract outcome an IOU is payable on.
type Condition struct {
	Kind       CondKind `json:"kind" db:"cond_kind"`
	ContractID string   `json:"contract_id" db:"cond_contract_id"`
}

// Status is the settlement state of an IOU.
type Status int

const (
	// StatusUnknown: the conditioning contract has not resolved.
	StatusUnknown Status = iota
	// StatusTrue: the obligation stands unconditionally.
	StatusTrue
	// StatusVoid: the obligation is cancelled.
	StatusVoid
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusTrue:
		return "true"
	case StatusVoid:
		return "void"
	}
	return "invalid"
}

// IOU is an immutable record of a conditional debt. IOUs are never
// deleted; settlement and splitting only change Status. SplitFrom links a
// replacement IOU back to the parent it was split out of.
type IOU struct {
	ID        string    `json:"id" db:"id"`
	Issuer    string    `json:"issuer" db:"issuer"`
	Holder    string    `json:"holder" db:"holder"`
	Condition Condition `json:"condition"`
	Amount    int64     `json:"amount" db:"amount"`
	Status    Status    `json:"status" db:"status"`
	SplitFrom string    `json:"split_from,omitempty" db:"split_from"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TransitionStatus is the settlement rule applied when an IOU's
// conditioning contract resolves. It is total: every (kind, outcome) pair
// is covered, with no default arm to hide a missed case.
func TransitionStatus(kind CondKind, outcome bool) Status {
	switch kind {
	case CondIf:
		if outcome {
			return StatusTrue
		}
		return StatusVoid
	case CondNot:
		if outcome {
			return StatusVoid
		}
		return StatusTrue
	}
	panic("model: invalid condition kind")
}

// Trade records one match: the buyer bought Units at Price from the
// seller, producing an If-IOU from seller to buyer and a Not-IOU from
// buyer to seller.
type Trade struct {
	ContractID string `json:"contract_id"`
	Buyer      string `json:"buyer"`
	Seller     string `json:"seller"`
	Price      int64  `json:"price"`
	Units      int64  `json:"units"`
	IfAmount   int64  `json:"if_amount"`
	NotAmount  int64  `json:"not_amount"`
}

// Spread is the post-session best bid/ask for one contract.
type Spread struct {
	ContractID string `json:"contract_id"`
	Bid        int64  `json:"bid"`
	Ask        int64  `json:"ask"`
}

// SessionReport summarises one matching run: the trades executed, the
// final spread per quoted contract, and the volume-weighted clearing
// price per traded contract.
type SessionReport struct {
	Trades         []Trade                    `json:"trades"`
	Spreads        []Spread                   `json:"spreads"`
	ClearingPrices map[string]decimal.Decimal `json:"clearing_prices"`
}

// OutcomeReport is a participant's signed P&L per contract, plus the
// "otherwise" P&L realised if none of the tracked contracts resolve true.
type OutcomeReport struct {
	Participant string           `json:"participant"`
	ByContract  map[string]int64 `json:"by_contract"`
	Otherwise   int64            `json:"otherwise"`
}

// --- Bookkeeping record kinds (no algorithmic behavior) ---

// Entity is a free-form catalog record (a person, a party, ...).
type Entity struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Type      string    `json:"type" db:"entity_type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Rel is a typed directed relation between two entities.
type Rel struct {
	ID        string    `json:"id" db:"id"`
	Type      string    `json:"type" db:"rel_type"`
	From      string    `json:"from" db:"rel_from"`
	To        string    `json:"to" db:"rel_to"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Pred is a named predicate over entity arguments; Value is set once the
// predicate's truth is known.
type Pred struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Args      []string  `json:"args"`
	Value     *string   `json:"value,omitempty" db:"pred_value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Depend is a typed dependency between two predicates.
type Depend struct {
	ID        string    `json:"id" db:"id"`
	Type      string    `json:"type" db:"depend_type"`
	Pred1     string    `json:"pred1" db:"depend_pred1"`
	Pred2     string    `json:"pred2" db:"depend_pred2"`
	Vars      []string  `json:"vars"`
	Args1     []string  `json:"args1"`
	Args2     []string  `json:"args2"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Record is how the bookkeeping kinds travel through the store: the typed
// item serialized as JSON under a (kind, id) key. The store does not
// interpret Data.
type Record struct {
	Kind      string          `json:"kind" db:"kind"`
	ID        string          `json:"id" db:"id"`
	Data      json.RawMessage `json:"data" db:"data"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Identity attests that a participant controls an account on an external
// service.
type Identity struct {
	ID          string    `json:"id" db:"id"`
	Participant string    `json:"participant" db:"participant_id"`
	Service     string    `json:"service" db:"service"`
	AccountName string    `json:"account_name" db:"account_name"`
	AttestedAt  time.Time `json:"attested_at" db:"attested_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
