package match_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/range-exchange/internal/exposure"
	"github.com/atmx/range-exchange/internal/match"
	"github.com/atmx/range-exchange/internal/model"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("iou-%d", n)
	}
}

func participant(name string, credit int64, ranges ...model.Range) model.Participant {
	p := model.Participant{ID: name, Name: name, CreditLimit: credit, Ranges: make(map[string]model.Range)}
	for _, r := range ranges {
		p.Ranges[r.ContractID] = r
	}
	return p
}

func contracts(names ...string) map[string]model.Contract {
	out := make(map[string]model.Contract, len(names))
	for _, name := range names {
		out[name] = model.Contract{ID: name, Name: name}
	}
	return out
}

func asMap(ps ...model.Participant) map[string]model.Participant {
	out := make(map[string]model.Participant, len(ps))
	for _, p := range ps {
		out[p.ID] = p
	}
	return out
}

func run(t *testing.T, ps map[string]model.Participant, cs map[string]model.Contract, ious []model.IOU) *match.Result {
	t.Helper()
	res, err := match.Run(ps, cs, ious, sequentialIDs(), time.Now().UTC())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	return res
}

// The canonical single-contract fill: X believes (5,45), Y believes
// (45,95), both with credit 1000. They cross at 45 for 18 units; X sells.
func TestSingleCrossing(t *testing.T) {
	res := run(t,
		asMap(
			participant("X", 1000, model.Range{ContractID: "A", Low: 5, High: 45}),
			participant("Y", 1000, model.Range{ContractID: "A", Low: 45, High: 95}),
		),
		contracts("A"), nil)

	if len(res.Report.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Report.Trades))
	}
	tr := res.Report.Trades[0]
	want := model.Trade{
		ContractID: "A", Buyer: "Y", Seller: "X",
		Price: 45, Units: 18, IfAmount: 990, NotAmount: 810,
	}
	if tr != want {
		t.Errorf("trade = %+v, want %+v", tr, want)
	}

	if len(res.IOUs) != 2 {
		t.Fatalf("got %d ious, want 2", len(res.IOUs))
	}
	ifIOU, notIOU := res.IOUs[0], res.IOUs[1]
	if ifIOU.Issuer != "X" || ifIOU.Holder != "Y" || ifIOU.Condition.Kind != model.CondIf || ifIOU.Amount != 990 {
		t.Errorf("if-iou = %+v", ifIOU)
	}
	if notIOU.Issuer != "Y" || notIOU.Holder != "X" || notIOU.Condition.Kind != model.CondNot || notIOU.Amount != 810 {
		t.Errorf("not-iou = %+v", notIOU)
	}

	if len(res.Report.Spreads) != 1 {
		t.Fatalf("got %d spreads, want 1", len(res.Report.Spreads))
	}
	if s := res.Report.Spreads[0]; s.Bid != 45 || s.Ask != 95 {
		t.Errorf("final spread = (%d, %d), want (45, 95)", s.Bid, s.Ask)
	}

	if !res.Report.ClearingPrices["A"].Equal(decimal.NewFromInt(45)) {
		t.Errorf("clearing price = %s, want 45", res.Report.ClearingPrices["A"])
	}
}

func TestNoCrossingNoTrades(t *testing.T) {
	res := run(t,
		asMap(
			participant("X", 1000, model.Range{ContractID: "A", Low: 5, High: 40}),
			participant("Y", 1000, model.Range{ContractID: "A", Low: 39, High: 95}),
		),
		contracts("A"), nil)

	if len(res.Report.Trades) != 0 {
		t.Errorf("got %d trades, want 0", len(res.Report.Trades))
	}
	if s := res.Report.Spreads[0]; s.Bid != 39 || s.Ask != 40 {
		t.Errorf("final spread = (%d, %d), want (39, 40)", s.Bid, s.Ask)
	}
}

func TestConservation(t *testing.T) {
	res := run(t,
		asMap(
			participant("X", 5000, model.Range{ContractID: "A", Low: 5, High: 45}, model.Range{ContractID: "B", Low: 20, High: 60}),
			participant("Y", 3000, model.Range{ContractID: "A", Low: 45, High: 95}, model.Range{ContractID: "B", Low: 60, High: 90}),
			participant("Z", 2000, model.Range{ContractID: "B", Low: 55, High: 65}),
		),
		contracts("A", "B"), nil)

	for _, tr := range res.Report.Trades {
		if tr.IfAmount+tr.NotAmount != tr.Units*100 {
			t.Errorf("trade %+v: if+not = %d, want %d", tr, tr.IfAmount+tr.NotAmount, tr.Units*100)
		}
		if tr.Price <= 0 || tr.Price >= 100 {
			t.Errorf("trade price %d out of (0,100)", tr.Price)
		}
		if tr.Units <= 0 {
			t.Errorf("trade units %d not positive", tr.Units)
		}
	}
}

func TestCreditLimitRespected(t *testing.T) {
	ps := asMap(
		participant("X", 5000, model.Range{ContractID: "A", Low: 5, High: 45}, model.Range{ContractID: "B", Low: 20, High: 60}),
		participant("Y", 300, model.Range{ContractID: "A", Low: 45, High: 95}, model.Range{ContractID: "B", Low: 60, High: 90}),
		participant("Z", 2000, model.Range{ContractID: "B", Low: 55, High: 65}, model.Range{ContractID: "A", Low: 40, High: 50}),
	)
	res := run(t, ps, contracts("A", "B"), nil)

	for id, p := range ps {
		exp := exposure.FromIOUs(id, res.IOUs)
		for _, contractID := range []string{"A", "B"} {
			if got := exp.TotalExposureToContract(contractID); got > p.CreditLimit {
				t.Errorf("%s exposure to %s = %d exceeds credit %d", id, contractID, got, p.CreditLimit)
			}
			if got := exp.TotalExposureToContractNeg(contractID); got > p.CreditLimit {
				t.Errorf("%s neg exposure to %s = %d exceeds credit %d", id, contractID, got, p.CreditLimit)
			}
		}
	}
}

func TestDeterminism(t *testing.T) {
	build := func() (map[string]model.Participant, map[string]model.Contract) {
		return asMap(
			participant("X", 5000, model.Range{ContractID: "A", Low: 5, High: 45}, model.Range{ContractID: "B", Low: 20, High: 60}),
			participant("Y", 3000, model.Range{ContractID: "A", Low: 45, High: 95}, model.Range{ContractID: "B", Low: 60, High: 90}),
			participant("Z", 2000, model.Range{ContractID: "B", Low: 55, High: 65}),
		), contracts("A", "B")
	}

	ps1, cs1 := build()
	ps2, cs2 := build()
	res1 := run(t, ps1, cs1, nil)
	res2 := run(t, ps2, cs2, nil)

	if !reflect.DeepEqual(res1.Report.Trades, res2.Report.Trades) {
		t.Errorf("trades differ:\n%+v\n%+v", res1.Report.Trades, res2.Report.Trades)
	}
	if !reflect.DeepEqual(res1.Report.Spreads, res2.Report.Spreads) {
		t.Errorf("spreads differ:\n%+v\n%+v", res1.Report.Spreads, res2.Report.Spreads)
	}
}

// Exhausting the top bid level lets the next level trade: B1's small
// credit fills first at 45, then B2 crosses the remaining ask at 42.
func TestBookWidensAfterFill(t *testing.T) {
	res := run(t,
		asMap(
			participant("S", 1000, model.Range{ContractID: "A", Low: 10, High: 40}),
			participant("B1", 150, model.Range{ContractID: "A", Low: 50, High: 90}),
			participant("B2", 1000, model.Range{ContractID: "A", Low: 45, High: 85}),
		),
		contracts("A"), nil)

	if len(res.Report.Trades) != 2 {
		t.Fatalf("got %d trades, want 2: %+v", len(res.Report.Trades), res.Report.Trades)
	}
	first, second := res.Report.Trades[0], res.Report.Trades[1]
	if first.Buyer != "B1" || first.Price != 45 || first.Units != 3 {
		t.Errorf("first trade = %+v, want B1 buys 3 at 45", first)
	}
	if second.Buyer != "B2" || second.Price != 42 || second.Units != 14 {
		t.Errorf("second trade = %+v, want B2 buys 14 at 42", second)
	}

	// VWAP across both fills: (3*45 + 14*42) / 17.
	want := decimal.NewFromInt(3*45 + 14*42).Div(decimal.NewFromInt(17))
	if !res.Report.ClearingPrices["A"].Equal(want) {
		t.Errorf("clearing price = %s, want %s", res.Report.ClearingPrices["A"], want)
	}
}

func TestContractTieBreakByName(t *testing.T) {
	// Identical crossings on both contracts: beta is listed first in the
	// map but alpha must trade first.
	res := run(t,
		asMap(
			participant("S", 10000,
				model.Range{ContractID: "beta", Low: 10, High: 40},
				model.Range{ContractID: "alpha", Low: 10, High: 40},
			),
			participant("B", 10000,
				model.Range{ContractID: "beta", Low: 50, High: 90},
				model.Range{ContractID: "alpha", Low: 50, High: 90},
			),
		),
		contracts("alpha", "beta"), nil)

	if len(res.Report.Trades) == 0 {
		t.Fatal("expected trades")
	}
	if res.Report.Trades[0].ContractID != "alpha" {
		t.Errorf("first trade on %q, want alpha", res.Report.Trades[0].ContractID)
	}
}

func TestPartyTieBreaks(t *testing.T) {
	// bob has more capacity than ann at the same bid level and wins;
	// with equal capacity the name decides.
	res := run(t,
		asMap(
			participant("S", 10000, model.Range{ContractID: "A", Low: 10, High: 40}),
			participant("ann", 500, model.Range{ContractID: "A", Low: 50, High: 90}),
			participant("bob", 1000, model.Range{ContractID: "A", Low: 50, High: 90}),
		),
		contracts("A"), nil)

	if len(res.Report.Trades) == 0 {
		t.Fatal("expected trades")
	}
	if res.Report.Trades[0].Buyer != "bob" {
		t.Errorf("first buyer %q, want bob (larger capacity)", res.Report.Trades[0].Buyer)
	}

	res = run(t,
		asMap(
			participant("S", 10000, model.Range{ContractID: "A", Low: 10, High: 40}),
			participant("ann", 1000, model.Range{ContractID: "A", Low: 50, High: 90}),
			participant("bob", 1000, model.Range{ContractID: "A", Low: 50, High: 90}),
		),
		contracts("A"), nil)

	if res.Report.Trades[0].Buyer != "ann" {
		t.Errorf("first buyer %q, want ann (name tie-break)", res.Report.Trades[0].Buyer)
	}
}

// Prior obligations shrink what a participant can quote: X already owes
// 990 on A, so its remaining sell headroom is below the viability
// threshold and no new trade happens.
func TestPriorExposureBlocksQuoting(t *testing.T) {
	ious := []model.IOU{
		{ID: "old-1", Issuer: "X", Holder: "Y", Condition: model.Condition{Kind: model.CondIf, ContractID: "A"}, Amount: 990, Status: model.StatusUnknown},
		{ID: "old-2", Issuer: "Y", Holder: "X", Condition: model.Condition{Kind: model.CondNot, ContractID: "A"}, Amount: 810, Status: model.StatusUnknown},
	}
	res := run(t,
		asMap(
			participant("X", 1000, model.Range{ContractID: "A", Low: 5, High: 45}),
			participant("Y", 1000, model.Range{ContractID: "A", Low: 45, High: 95}),
		),
		contracts("A"), ious)

	if len(res.Report.Trades) != 0 {
		t.Errorf("got %d trades, want 0: %+v", len(res.Report.Trades), res.Report.Trades)
	}
}

// Revalidation must cover contracts the parties no longer quote. S
// carries a 900 not-debt on B with no range on B; selling 2 units on A
// passes every bound on A but pushes S's worst case for "B resolves
// false" (the standing not-debts plus the new net position on A) to
// 1100, over the 1000 limit.
func TestCreditCheckCoversUnquotedContracts(t *testing.T) {
	ious := []model.IOU{
		{ID: "old-1", Issuer: "S", Holder: "W", Condition: model.Condition{Kind: model.CondNot, ContractID: "B"}, Amount: 900, Status: model.StatusUnknown},
	}
	ps := asMap(
		participant("S", 1000, model.Range{ContractID: "A", Low: 10, High: 40}),
		participant("Y", 1000, model.Range{ContractID: "A", Low: 60, High: 90}),
		participant("W", 1000),
	)

	_, err := match.Run(ps, contracts("A", "B"), ious, sequentialIDs(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected a credit invariant violation")
	}
	var inv *match.InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("err = %v, want InvariantError", err)
	}
}

func TestSessionTerminates(t *testing.T) {
	// A pile of overlapping ranges across three contracts must reach a
	// fixed point; match.Run returning at all is the property, the rest
	// is sanity.
	ps := asMap(
		participant("a", 7000, model.Range{ContractID: "C1", Low: 20, High: 55}, model.Range{ContractID: "C2", Low: 40, High: 80}),
		participant("b", 4000, model.Range{ContractID: "C1", Low: 50, High: 90}, model.Range{ContractID: "C3", Low: 10, High: 35}),
		participant("c", 6000, model.Range{ContractID: "C2", Low: 30, High: 45}, model.Range{ContractID: "C3", Low: 30, High: 70}),
		participant("d", 2000, model.Range{ContractID: "C1", Low: 45, High: 60}, model.Range{ContractID: "C2", Low: 50, High: 70}),
	)
	res := run(t, ps, contracts("C1", "C2", "C3"), nil)

	for _, s := range res.Report.Spreads {
		if s.Ask <= s.Bid {
			t.Errorf("residual crossing on %s: (%d, %d)", s.ContractID, s.Bid, s.Ask)
		}
	}
}
