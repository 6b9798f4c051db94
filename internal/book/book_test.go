package book_test

import (
	"testing"

	"github.com/atmx/range-exchange/internal/book"
	"github.com/atmx/range-exchange/internal/exposure"
	"github.com/atmx/range-exchange/internal/model"
)

func participant(id string, credit int64, ranges ...model.Range) model.Participant {
	p := model.Participant{ID: id, Name: id, CreditLimit: credit, Ranges: make(map[string]model.Range)}
	for _, r := range ranges {
		p.Ranges[r.ContractID] = r
	}
	return p
}

func build(participants ...model.Participant) *book.Book {
	byID := make(map[string]model.Participant, len(participants))
	exps := make(map[string]*exposure.Exposure, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
		exps[p.ID] = exposure.New(p.ID)
	}
	return book.Build(byID, exps)
}

func TestRangePostsBothSides(t *testing.T) {
	b := build(participant("x", 1000, model.Range{ContractID: "A", Low: 30, High: 70}))

	l := b.Contract("A")
	if l == nil {
		t.Fatal("no levels for contract A")
	}
	if bid, ok := l.BestBid(); !ok || bid != 30 {
		t.Errorf("best bid = %d (%v), want 30", bid, ok)
	}
	if ask, ok := l.BestAsk(); !ok || ask != 70 {
		t.Errorf("best ask = %d (%v), want 70", ask, ok)
	}
	if cap := l.Bids[30]["x"]; cap != 1000 {
		t.Errorf("bid capacity = %d, want 1000", cap)
	}
}

func TestBelowViabilityNotPosted(t *testing.T) {
	b := build(participant("x", book.MinViableAmount-1, model.Range{ContractID: "A", Low: 30, High: 70}))

	if b.Contract("A") != nil {
		t.Error("sub-viable capacity should post nothing")
	}
}

func TestBestLevels(t *testing.T) {
	b := build(
		participant("x", 1000, model.Range{ContractID: "A", Low: 30, High: 70}),
		participant("y", 1000, model.Range{ContractID: "A", Low: 45, High: 60}),
	)

	l := b.Contract("A")
	if bid, _ := l.BestBid(); bid != 45 {
		t.Errorf("best bid = %d, want 45", bid)
	}
	if ask, _ := l.BestAsk(); ask != 60 {
		t.Errorf("best ask = %d, want 60", ask)
	}
}

func TestHeadroomGatesCapacity(t *testing.T) {
	// x already sold 990 on A: sell headroom 10 pulls the ask, buy side
	// (with a held not-IOU of 810) stays fully funded.
	ledger := []model.IOU{
		{Issuer: "x", Holder: "y", Condition: model.Condition{Kind: model.CondIf, ContractID: "A"}, Amount: 990, Status: model.StatusUnknown},
		{Issuer: "y", Holder: "x", Condition: model.Condition{Kind: model.CondNot, ContractID: "A"}, Amount: 810, Status: model.StatusUnknown},
	}
	x := participant("x", 1000, model.Range{ContractID: "A", Low: 5, High: 45})
	b := book.Build(
		map[string]model.Participant{"x": x},
		map[string]*exposure.Exposure{"x": exposure.FromIOUs("x", ledger)},
	)

	l := b.Contract("A")
	if l == nil {
		t.Fatal("no levels for contract A")
	}
	if _, ok := l.BestAsk(); ok {
		t.Error("exhausted seller should not post an ask")
	}
	if cap := l.Bids[5]["x"]; cap != 1000 {
		t.Errorf("bid capacity = %d, want 1000", cap)
	}
}

func TestSpreadDefaults(t *testing.T) {
	b := build(participant("x", 1000, model.Range{ContractID: "A", Low: 30, High: 70}))

	s := b.Spread("A")
	if s.Bid != 30 || s.Ask != 70 {
		t.Errorf("spread = (%d, %d), want (30, 70)", s.Bid, s.Ask)
	}

	// No offers at all: price bounds stand in.
	empty := b.Spread("B")
	if empty.Bid != 0 || empty.Ask != 100 {
		t.Errorf("empty spread = (%d, %d), want (0, 100)", empty.Bid, empty.Ask)
	}
}

func TestCrossedDetection(t *testing.T) {
	crossed := build(
		participant("x", 1000, model.Range{ContractID: "A", Low: 5, High: 45}),
		participant("y", 1000, model.Range{ContractID: "A", Low: 45, High: 95}),
	)
	if !crossed.Crossed("A") {
		t.Error("ask 45 <= bid 45 should report crossed")
	}

	open := build(
		participant("x", 1000, model.Range{ContractID: "A", Low: 5, High: 46}),
		participant("y", 1000, model.Range{ContractID: "A", Low: 45, High: 95}),
	)
	if open.Crossed("A") {
		t.Error("ask 46 > bid 45 should not report crossed")
	}
}

func TestContractIDsSorted(t *testing.T) {
	b := build(
		participant("x", 1000,
			model.Range{ContractID: "gamma", Low: 10, High: 20},
			model.Range{ContractID: "alpha", Low: 10, High: 20},
			model.Range{ContractID: "beta", Low: 10, High: 20},
		),
	)
	ids := b.ContractIDs()
	want := []string{"alpha", "beta", "gamma"}
	if len(ids) != len(want) {
		t.Fatalf("got %d contracts, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}
