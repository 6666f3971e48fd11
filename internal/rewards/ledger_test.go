package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/events"
)

func newTestLedger(t *testing.T) (*Ledger, *events.MemoryBus) {
	t.Helper()
	bus := events.NewMemoryBus()
	var seq atomic.Int32
	clock := time.Unix(1_700_000_000, 0)
	l := NewLedger(NewMemoryStore(),
		WithEmitter(events.NewEmitter(bus, nil)),
		WithClock(func() time.Time { return clock }),
		WithIDGenerator(func() string { return fmt.Sprintf("req-%d", seq.Add(1)) }),
	)
	return l, bus
}

func TestCreditIsIdempotentPerOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Credit(ctx, "a1", "o1", 1); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := l.Credit(ctx, "a1", "o1", 1); !errors.Is(err, ErrAlreadyCredited) {
		t.Fatalf("expected ErrAlreadyCredited, got %v", err)
	}
	if !xerrors.HasCode(ErrAlreadyCredited, xerrors.CodeAlreadyResolved) {
		t.Fatalf("duplicate credit must surface as ALREADY_RESOLVED")
	}
	balance, _ := l.Balance(ctx, auth.Agent("a1"), "a1")
	if balance != 1 {
		t.Fatalf("expected balance 1, got %d", balance)
	}
	if _, err := l.Credit(ctx, "a1", "o2", 0); !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation error for zero points, got %v", err)
	}
}

func TestRequestSnapshotsAndDeductsBalance(t *testing.T) {
	l, bus := newTestLedger(t)
	ctx := context.Background()
	agent := auth.Agent("a1")
	for i := 0; i < 3; i++ {
		if _, err := l.Credit(ctx, "a1", fmt.Sprintf("o%d", i), 1); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}

	req, err := l.CreateRequest(ctx, agent, "a1")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.Amount != 3 || req.Status != RequestPending {
		t.Fatalf("unexpected request: %+v", req)
	}
	if balance, _ := l.Balance(ctx, agent, "a1"); balance != 0 {
		t.Fatalf("balance must be deducted at creation, got %d", balance)
	}
	if _, err := l.CreateRequest(ctx, agent, "a1"); !errors.Is(err, ErrNothingToRedeem) {
		t.Fatalf("expected ErrNothingToRedeem, got %v", err)
	}
	if types := bus.Types(); len(types) != 1 || types[0] != events.RewardRequested {
		t.Fatalf("unexpected events: %v", types)
	}
}

func TestRejectRefundsApproveKeeps(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	agent, admin := auth.Agent("a1"), auth.Admin("root")

	_, _ = l.Credit(ctx, "a1", "o1", 5)
	first, _ := l.CreateRequest(ctx, agent, "a1")
	rejected, err := l.Reject(ctx, admin, first.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != RequestRejected || rejected.ResolvedBy != "root" {
		t.Fatalf("unexpected rejected request: %+v", rejected)
	}
	if balance, _ := l.Balance(ctx, admin, "a1"); balance != 5 {
		t.Fatalf("reject must refund exactly the amount, got %d", balance)
	}

	second, _ := l.CreateRequest(ctx, agent, "a1")
	if _, err := l.Approve(ctx, admin, second.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if balance, _ := l.Balance(ctx, admin, "a1"); balance != 0 {
		t.Fatalf("approve must not change balance, got %d", balance)
	}
	if _, err := l.Reject(ctx, admin, second.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if _, err := l.Approve(ctx, admin, "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestConcurrentResolutionHasOneWinner(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, _ = l.Credit(ctx, "a1", "o1", 2)
	req, _ := l.CreateRequest(ctx, auth.Agent("a1"), "a1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(reject bool) {
			defer wg.Done()
			var err error
			if reject {
				_, err = l.Reject(ctx, auth.Admin("root"), req.ID)
			} else {
				_, err = l.Approve(ctx, auth.Admin("root"), req.ID)
			}
			if err == nil {
				wins.Add(1)
			}
		}(i%2 == 0)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected one resolution, got %d", wins.Load())
	}
	balance, _ := l.Balance(ctx, auth.Admin("root"), "a1")
	if balance != 0 && balance != 2 {
		t.Fatalf("balance must reflect exactly one resolution, got %d", balance)
	}
}

func TestLedgerAuthorization(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, _ = l.Credit(ctx, "a1", "o1", 1)

	if _, err := l.CreateRequest(ctx, auth.Agent("a2"), "a1"); !xerrors.HasCode(err, xerrors.CodeAuthorization) {
		t.Fatalf("agent cannot request for another agent, got %v", err)
	}
	if _, err := l.CreateRequest(ctx, auth.Admin("root"), "a1"); !xerrors.HasCode(err, xerrors.CodeAuthorization) {
		t.Fatalf("admin cannot request on behalf of agent, got %v", err)
	}
	req, _ := l.CreateRequest(ctx, auth.Agent("a1"), "a1")
	if _, err := l.Approve(ctx, auth.Agent("a1"), req.ID); !xerrors.HasCode(err, xerrors.CodeAuthorization) {
		t.Fatalf("agent cannot approve, got %v", err)
	}
	if _, err := l.Balance(ctx, auth.Requester("r1"), "a1"); !xerrors.HasCode(err, xerrors.CodeAuthorization) {
		t.Fatalf("requester cannot read balances, got %v", err)
	}
	if _, err := l.List(ctx, auth.Requester("r1"), Filter{}); !xerrors.HasCode(err, xerrors.CodeAuthorization) {
		t.Fatalf("requester cannot list requests, got %v", err)
	}
}

func TestListScopesAgents(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, _ = l.Credit(ctx, "a1", "o1", 1)
	_, _ = l.Credit(ctx, "a2", "o2", 1)
	_, _ = l.CreateRequest(ctx, auth.Agent("a1"), "a1")
	_, _ = l.CreateRequest(ctx, auth.Agent("a2"), "a2")

	mine, _ := l.List(ctx, auth.Agent("a1"), Filter{AgentID: "a2"})
	if len(mine) != 1 || mine[0].AgentID != "a1" {
		t.Fatalf("agent must only see own requests: %+v", mine)
	}
	all, _ := l.List(ctx, auth.Admin("root"), Filter{Statuses: []RequestStatus{RequestPending}})
	if len(all) != 2 {
		t.Fatalf("admin must see all pending requests, got %d", len(all))
	}
}

func TestGetRequestScopedToOwner(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Credit(ctx, "a1", "o1", 2); err != nil {
		t.Fatalf("credit: %v", err)
	}
	req, err := l.CreateRequest(ctx, auth.Agent("a1"), "a1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	got, err := l.GetRequest(ctx, auth.Agent("a1"), req.ID)
	if err != nil || got.Amount != 2 || got.Status != RequestPending {
		t.Fatalf("owner read: %+v %v", got, err)
	}
	if _, err := l.GetRequest(ctx, auth.Admin("root"), req.ID); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if _, err := l.GetRequest(ctx, auth.Agent("a2"), req.ID); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("other agent must see NOT_FOUND, got %v", err)
	}
	if _, err := l.GetRequest(ctx, auth.Requester("r1"), req.ID); !xerrors.HasCode(err, xerrors.CodeAuthorization) {
		t.Fatalf("requester must be rejected, got %v", err)
	}
	if _, err := l.GetRequest(ctx, auth.Admin("root"), "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}
