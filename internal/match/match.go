// Package match runs a trading session to its fixed point. Each
// iteration rebuilds the offer book from working exposures, picks the
// most-crossed contract, matches one buyer against one seller at the
// floored midpoint, and mints the pair of conditional IOUs that trade
// implies. The loop ends when no contract's best ask reaches its best
// bid.
package match

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/range-exchange/internal/book"
	"github.com/atmx/range-exchange/internal/exposure"
	"github.com/atmx/range-exchange/internal/model"
)

// InvariantError reports a broken engine invariant: residual crossing at
// session end, or a credit limit violated by a trade the engine itself
// sized. These indicate a bug, not bad input, and abort the session.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "matching invariant violated: " + e.Reason
}

func invariantf(format string, args ...any) error {
	return &InvariantError{Reason: fmt.Sprintf(format, args...)}
}

// Result carries everything one session produced. IOUs are the newly
// minted obligations, in issue order; the report is what the caller
// publishes.
type Result struct {
	IOUs   []model.IOU
	Report model.SessionReport
}

type candidate struct {
	contractID string
	name       string
	bid        int64
	ask        int64
}

// Run executes one session over the given ledger state. The caller owns
// persistence: nothing here mutates participants or the input IOUs, and
// the minted IOUs are only real once committed. newID supplies IDs for
// the minted IOUs.
func Run(participants map[string]model.Participant, contracts map[string]model.Contract, ious []model.IOU, newID func() string, now time.Time) (*Result, error) {
	exposures := make(map[string]*exposure.Exposure, len(participants))
	for id := range participants {
		exposures[id] = exposure.FromIOUs(id, ious)
	}

	res := &Result{}
	volume := make(map[string]int64)
	notional := make(map[string]int64)

	for {
		b := book.Build(participants, exposures)
		c, ok := pickContract(b, contracts)
		if !ok {
			// Fixed point: publish spreads and verify none crossed.
			for _, contractID := range b.ContractIDs() {
				if b.Crossed(contractID) {
					return nil, invariantf("contract %q still crossed after matching", contracts[contractID].Name)
				}
				res.Report.Spreads = append(res.Report.Spreads, b.Spread(contractID))
			}
			break
		}

		price := (c.bid + c.ask) / 2
		if price <= 0 || price >= 100 {
			return nil, invariantf("clearing price %d outside (0,100) on %q", price, c.name)
		}

		levels := b.Contract(c.contractID)
		buyer, buyerCap := pickParty(levels.Bids[c.bid], participants)
		seller, sellerCap := pickParty(levels.Asks[c.ask], participants)
		if buyer == seller {
			return nil, invariantf("participant %q crossed with itself on %q", participants[buyer].Name, c.name)
		}

		units := buyerCap / price
		if sellerUnits := sellerCap / (100 - price); sellerUnits < units {
			units = sellerUnits
		}
		if units <= 0 {
			return nil, invariantf("matched zero units on %q at price %d", c.name, price)
		}

		ifAmount := units * (100 - price)
		notAmount := units * price

		minted := []model.IOU{
			{
				ID:        newID(),
				Issuer:    seller,
				Holder:    buyer,
				Condition: model.Condition{Kind: model.CondIf, ContractID: c.contractID},
				Amount:    ifAmount,
				Status:    model.StatusUnknown,
				CreatedAt: now,
			},
			{
				ID:        newID(),
				Issuer:    buyer,
				Holder:    seller,
				Condition: model.Condition{Kind: model.CondNot, ContractID: c.contractID},
				Amount:    notAmount,
				Status:    model.StatusUnknown,
				CreatedAt: now,
			},
		}
		for _, iou := range minted {
			exposures[iou.Issuer].Apply(iou)
			exposures[iou.Holder].Apply(iou)
			res.IOUs = append(res.IOUs, iou)
		}
		for _, id := range []string{buyer, seller} {
			if err := checkCredit(participants[id], exposures[id]); err != nil {
				return nil, err
			}
		}

		res.Report.Trades = append(res.Report.Trades, model.Trade{
			ContractID: c.contractID,
			Buyer:      buyer,
			Seller:     seller,
			Price:      price,
			Units:      units,
			IfAmount:   ifAmount,
			NotAmount:  notAmount,
		})
		volume[c.contractID] += units
		notional[c.contractID] += units * price
	}

	if len(volume) > 0 {
		res.Report.ClearingPrices = make(map[string]decimal.Decimal, len(volume))
		for contractID, units := range volume {
			res.Report.ClearingPrices[contractID] = decimal.NewFromInt(notional[contractID]).
				Div(decimal.NewFromInt(units))
		}
	}
	return res, nil
}

// pickContract selects the crossed contract to match next: deepest
// crossing first, contract name as the deterministic tie-break.
func pickContract(b *book.Book, contracts map[string]model.Contract) (candidate, bool) {
	var cands []candidate
	for _, contractID := range b.ContractIDs() {
		l := b.Contract(contractID)
		bid, okBid := l.BestBid()
		ask, okAsk := l.BestAsk()
		if okBid && okAsk && ask <= bid {
			cands = append(cands, candidate{
				contractID: contractID,
				name:       contracts[contractID].Name,
				bid:        bid,
				ask:        ask,
			})
		}
	}
	if len(cands) == 0 {
		return candidate{}, false
	}
	sort.Slice(cands, func(i, j int) bool {
		di, dj := cands[i].bid-cands[i].ask, cands[j].bid-cands[j].ask
		if di != dj {
			return di > dj
		}
		return cands[i].name < cands[j].name
	})
	return cands[0], true
}

// pickParty selects from one price level: largest posted capacity wins,
// participant name breaks ties.
func pickParty(level map[string]int64, participants map[string]model.Participant) (string, int64) {
	var (
		bestID  string
		bestCap int64
	)
	for id, capacity := range level {
		if bestID == "" || capacity > bestCap ||
			(capacity == bestCap && participants[id].Name < participants[bestID].Name) {
			bestID, bestCap = id, capacity
		}
	}
	return bestID, bestCap
}

// checkCredit revalidates both worst-case bounds over every contract the
// participant touches: quoted ranges plus any contract carrying prior
// exposure, whether or not it is still ranged.
func checkCredit(p model.Participant, exp *exposure.Exposure) error {
	seen := make(map[string]bool, len(p.Ranges))
	check := func(contractID string) error {
		if seen[contractID] {
			return nil
		}
		seen[contractID] = true
		if exp.TotalExposureToContract(contractID) > p.CreditLimit {
			return invariantf("participant %q over credit limit if contract resolves true", p.Name)
		}
		if exp.TotalExposureToContractNeg(contractID) > p.CreditLimit {
			return invariantf("participant %q over credit limit if contract resolves false", p.Name)
		}
		return nil
	}
	for contractID := range p.Ranges {
		if err := check(contractID); err != nil {
			return err
		}
	}
	for _, contractID := range exp.Contracts() {
		if err := check(contractID); err != nil {
			return err
		}
	}
	return nil
}
