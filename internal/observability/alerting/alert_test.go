package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "PurchaseRelay/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	bad := &recordingNotifier{channel: ChannelWebhook, err: errors.New("timeout")}
	d := NewFanout(ok, bad, nil)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeQueueFailure})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(ok.events) != 1 || len(bad.events) != 1 {
		t.Fatalf("every notifier must be attempted")
	}
}

func TestFromErrorCarriesCodeAndMetadata(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "reward credit failed", xerrors.WithMetadata("agent_id", "a1"))
	event := FromError(err, "o1", "credit_agent_payment")
	if event.Code != xerrors.CodeStorageFailure || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata["agent_id"] != "a1" || event.OrderID != "o1" {
		t.Fatalf("metadata not carried: %+v", event)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeQueueFailure, OrderID: "o9"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.OrderID != "o9" || got.Code != xerrors.CodeQueueFailure {
		t.Fatalf("unexpected payload: %+v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	if err := (&WebhookNotifier{URL: failing.URL}).Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}
