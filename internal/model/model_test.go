package model_test

import (
	"testing"

	"github.com/atmx/range-exchange/internal/model"
)

func TestTransitionStatus(t *testing.T) {
	cases := []struct {
		kind    model.CondKind
		outcome bool
		want    model.Status
	}{
		{model.CondIf, true, model.StatusTrue},
		{model.CondIf, false, model.StatusVoid},
		{model.CondNot, true, model.StatusVoid},
		{model.CondNot, false, model.StatusTrue},
	}
	for _, tc := range cases {
		got := model.TransitionStatus(tc.kind, tc.outcome)
		if got != tc.want {
			t.Errorf("TransitionStatus(%s, %v) = %s, want %s", tc.kind, tc.outcome, got, tc.want)
		}
	}
}

func TestResolutionResolved(t *testing.T) {
	if model.Unresolved.Resolved() {
		t.Error("unresolved reports resolved")
	}
	if !model.ResolvedTrue.Resolved() || !model.ResolvedFalse.Resolved() {
		t.Error("settled resolution reports unresolved")
	}
}

func TestStringers(t *testing.T) {
	if got := model.CondIf.String(); got != "if" {
		t.Errorf("CondIf = %q", got)
	}
	if got := model.CondNot.String(); got != "not" {
		t.Errorf("CondNot = %q", got)
	}
	if got := model.StatusUnknown.String(); got != "unknown" {
		t.Errorf("StatusUnknown = %q", got)
	}
	if got := model.ResolvedFalse.String(); got != "resolved-false" {
		t.Errorf("ResolvedFalse = %q", got)
	}
}
