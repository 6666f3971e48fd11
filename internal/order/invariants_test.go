package order

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	xerrors "PurchaseRelay/internal/errors"
)

func TestCheckWriteRejectsInvariantBreaks(t *testing.T) {
	edit := EditHistoryEntry{EditedAt: time.Unix(100, 0), PreviousAmount: decimal.NewFromInt(500), NewAmount: decimal.NewFromInt(480)}
	prev := &Order{
		ID: "o1", Status: StatusAwaitingPayment, AgentID: "a1", UserPaymentVerified: true,
		Report: &AgentReport{UserAmount: decimal.NewFromInt(480), EditHistory: []EditHistoryEntry{edit}},
	}

	cases := map[string]func(o *Order){
		"reassign agent":  func(o *Order) { o.AgentID = "a2" },
		"reset verified":  func(o *Order) { o.UserPaymentVerified = false },
		"unknown status":  func(o *Order) { o.Status = "shipped" },
		"rewrite history": func(o *Order) { o.Report.EditHistory[0].Reason = "changed" },
		"drop history":    func(o *Order) { o.Report.EditHistory = nil },
		"drop report":     func(o *Order) { o.Report = nil },
	}
	for name, mutate := range cases {
		next := prev.Clone()
		mutate(next)
		err := CheckWrite(prev, next)
		if !errors.Is(err, xerrors.New(xerrors.CodeValidation, "")) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	next := prev.Clone()
	next.Report.EditHistory = append(next.Report.EditHistory, EditHistoryEntry{EditedAt: time.Unix(200, 0)})
	next.Status = StatusCompleted
	if err := CheckWrite(prev, next); err != nil {
		t.Fatalf("appending history must be allowed: %v", err)
	}
}

func TestCheckBundle(t *testing.T) {
	bundle := &Order{
		Kind:   KindBundle,
		Status: StatusAwaitingPayment,
		Items: []BundleItem{
			{ID: "i1", Status: ItemPending},
			{ID: "i2", Status: ItemRemoved},
		},
		ReportMode: ReportModeSingle,
		Report:     &AgentReport{UserAmount: decimal.NewFromInt(10), ItemAmounts: map[string]decimal.Decimal{"i1": decimal.NewFromInt(10)}},
	}
	if err := CheckBundle(bundle); err != nil {
		t.Fatalf("valid bundle rejected: %v", err)
	}

	bundle.Report.ItemAmounts["i2"] = decimal.NewFromInt(3)
	if err := CheckBundle(bundle); err == nil {
		t.Fatalf("amount for removed item must be rejected")
	}

	bundle.Items[0].Status = ItemRemoved
	if err := CheckBundle(bundle); err == nil {
		t.Fatalf("bundle without active items must be rejected")
	}

	perItem := &Order{
		Kind: KindBundle, Status: StatusAwaitingPayment, ReportMode: ReportModePerItem,
		Items: []BundleItem{{ID: "i1", Status: ItemQuoted, Report: &AgentReport{}}, {ID: "i2", Status: ItemPending}},
	}
	if err := CheckBundle(perItem); err == nil {
		t.Fatalf("unquoted active item must be rejected")
	}
}

func TestInvalidTransitionErrorMatchesSentinel(t *testing.T) {
	err := NewInvalidTransition("claim", "agent", StatusCompleted, StatusResearching)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if xerrors.CodeOf(err) != xerrors.CodeInvalidTransition {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
	var typed *InvalidTransitionError
	if !errors.As(err, &typed) || typed.Current != StatusCompleted {
		t.Fatalf("expected typed error with current status")
	}
}
