// Package book turns declared belief ranges into a per-contract book of
// resting offers. A range (low, high) posts a bid at low and an ask at
// high, each sized by the participant's remaining credit headroom against
// the working exposure snapshot. The book is throwaway: the matching loop
// rebuilds it from scratch every iteration, so a participant's own fills
// shrink their later postings automatically.
package book

import (
	"sort"

	"github.com/atmx/range-exchange/internal/exposure"
	"github.com/atmx/range-exchange/internal/model"
)

// MinViableAmount is the smallest headroom worth posting: one unit at the
// extreme price of 100. Anything smaller cannot clear a single unit.
const MinViableAmount = 100

// PriceLevels maps price → participant → posted capacity. Capacities at
// one level are additive across participants, but identity is retained
// for winner selection at match time.
type PriceLevels map[int64]map[string]int64

func (p PriceLevels) add(price int64, participant string, capacity int64) {
	level, ok := p[price]
	if !ok {
		level = make(map[string]int64)
		p[price] = level
	}
	level[participant] = capacity
}

// Levels holds both sides of one contract's book.
type Levels struct {
	Bids PriceLevels
	Asks PriceLevels
}

func newLevels() *Levels {
	return &Levels{
		Bids: make(PriceLevels),
		Asks: make(PriceLevels),
	}
}

// BestBid returns the highest bid price, if any bids rest.
func (l *Levels) BestBid() (int64, bool) {
	best, found := int64(0), false
	for price := range l.Bids {
		if !found || price > best {
			best, found = price, true
		}
	}
	return best, found
}

// BestAsk returns the lowest ask price, if any asks rest.
func (l *Levels) BestAsk() (int64, bool) {
	best, found := int64(0), false
	for price := range l.Asks {
		if !found || price < best {
			best, found = price, true
		}
	}
	return best, found
}

// Book is the aggregate of all contracts' resting offers.
type Book struct {
	contracts map[string]*Levels
}

// Build derives the book from every participant's ranges, gating each
// posting by headroom against the working exposures. Buy-side headroom
// bounds the "not" obligation a purchase creates; sell-side headroom
// bounds the "if" obligation a sale creates.
func Build(participants map[string]model.Participant, exposures map[string]*exposure.Exposure) *Book {
	b := &Book{contracts: make(map[string]*Levels)}
	for id, p := range participants {
		exp := exposures[id]
		if exp == nil {
			exp = exposure.New(id)
		}
		for contractID, r := range p.Ranges {
			if buy := exp.BuyHeadroom(p.CreditLimit, contractID); buy >= MinViableAmount {
				b.levels(contractID).Bids.add(r.Low, id, buy)
			}
			if sell := exp.SellHeadroom(p.CreditLimit, contractID); sell >= MinViableAmount {
				b.levels(contractID).Asks.add(r.High, id, sell)
			}
		}
	}
	return b
}

func (b *Book) levels(contractID string) *Levels {
	l, ok := b.contracts[contractID]
	if !ok {
		l = newLevels()
		b.contracts[contractID] = l
	}
	return l
}

// Contract returns the levels for one contract, or nil if nothing rests.
func (b *Book) Contract(contractID string) *Levels {
	return b.contracts[contractID]
}

// ContractIDs lists every contract with at least one resting offer,
// sorted for deterministic iteration.
func (b *Book) ContractIDs() []string {
	ids := make([]string, 0, len(b.contracts))
	for id := range b.contracts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Spread reports best bid/ask for one contract, defaulting to the price
// bounds (bid 0, ask 100) on an empty side, matching how the original
// engine reported session-end spreads.
func (b *Book) Spread(contractID string) model.Spread {
	s := model.Spread{ContractID: contractID, Bid: 0, Ask: 100}
	if l := b.contracts[contractID]; l != nil {
		if bid, ok := l.BestBid(); ok {
			s.Bid = bid
		}
		if ask, ok := l.BestAsk(); ok {
			s.Ask = ask
		}
	}
	return s
}

// Crossed reports whether the contract still has ask <= bid. After a
// session reaches its fixed point this must be false for every contract.
func (b *Book) Crossed(contractID string) bool {
	l := b.contracts[contractID]
	if l == nil {
		return false
	}
	bid, okBid := l.BestBid()
	ask, okAsk := l.BestAsk()
	return okBid && okAsk && ask <= bid
}
