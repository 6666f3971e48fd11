package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/order"
	"PurchaseRelay/internal/rewards"
	"PurchaseRelay/internal/settings"
	"PurchaseRelay/internal/settlement"
	"PurchaseRelay/internal/visibility"
)

// headerAuth 把 "Bearer role:id" 解析为调用方，仅用于测试。
type headerAuth struct{}

func (headerAuth) VerifyAuthorization(header string) (auth.Actor, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return auth.Actor{}, auth.ErrMissingToken
	}
	role, id, ok := strings.Cut(raw, ":")
	if !ok {
		return auth.Actor{}, auth.ErrInvalidToken
	}
	parsed, err := auth.ParseRole(role)
	if err != nil {
		return auth.Actor{}, auth.ErrInvalidToken
	}
	return auth.Actor{Role: parsed, ID: id}, nil
}

func newTestServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	store := order.NewMemoryStore()
	provider, err := settings.NewStatic(settings.ExchangeSettings{ExchangeRate: decimal.NewFromInt(450)})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	ledger := rewards.NewLedger(rewards.NewMemoryStore())
	engine, err := settlement.NewEngine(store, provider, ledger)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	server, err := NewServer(cfg, Deps{
		Engine:        engine,
		Views:         visibility.New(store),
		Rewards:       ledger,
		Authenticator: headerAuth{},
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return server.Handler()
}

func call(t *testing.T, h http.Handler, method, path, who string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+who)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("unexpected status: got %d want %d, body %s", rec.Code, status, rec.Body.String())
	}
}

const (
	requester = "requester:r1"
	agent     = "agent:a1"
	admin     = "admin:root"
)

func TestHealthzIsPublic(t *testing.T) {
	h := newTestServer(t, Config{})
	expectStatus(t, call(t, h, http.MethodGet, "/healthz", "", nil), http.StatusOK)
	expectStatus(t, call(t, h, http.MethodGet, "/api/v1/orders", "", nil), http.StatusUnauthorized)
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	h := newTestServer(t, Config{})

	rec := call(t, h, http.MethodPost, "/api/v1/orders", requester, settlement.Draft{ProductName: "film camera"})
	expectStatus(t, rec, http.StatusCreated)
	created := decodeBody[order.Order](t, rec)
	base := "/api/v1/orders/" + created.ID

	expectStatus(t, call(t, h, http.MethodPost, base+"/claim", agent, nil), http.StatusOK)
	expectStatus(t, call(t, h, http.MethodPost, base+"/report", agent, map[string]any{
		"report": map[string]any{"user_amount": "500", "payment_link": "https://pay.example/1"},
	}), http.StatusOK)

	rec = call(t, h, http.MethodGet, base+"/amount", requester, nil)
	expectStatus(t, rec, http.StatusOK)
	if quote := decodeBody[settlement.Quote](t, rec); quote.Amount != 236250 {
		t.Fatalf("unexpected amount: %+v", quote)
	}

	rec = call(t, h, http.MethodPatch, base+"/report", agent, map[string]any{"user_amount": "520", "reason": "shipping"})
	expectStatus(t, rec, http.StatusOK)
	if o := decodeBody[order.Order](t, rec); len(o.Report.EditHistory) != 1 {
		t.Fatalf("expected one history entry: %+v", o.Report)
	}

	expectStatus(t, call(t, h, http.MethodPost, base+"/verify-payment", admin, nil), http.StatusOK)
	expectStatus(t, call(t, h, http.MethodPost, base+"/credit", admin, nil), http.StatusOK)
	expectStatus(t, call(t, h, http.MethodPost, base+"/track-code", agent, map[string]string{"track_code": "SF100"}), http.StatusOK)

	rec = call(t, h, http.MethodGet, "/api/v1/rewards/balance", agent, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[map[string]any](t, rec); got["balance"] != float64(1) {
		t.Fatalf("unexpected balance: %v", got)
	}

	rec = call(t, h, http.MethodPost, "/api/v1/rewards/requests", agent, nil)
	expectStatus(t, rec, http.StatusCreated)
	req := decodeBody[rewards.Request](t, rec)
	expectStatus(t, call(t, h, http.MethodGet, "/api/v1/rewards/requests/"+req.ID, agent, nil), http.StatusOK)
	expectStatus(t, call(t, h, http.MethodGet, "/api/v1/rewards/requests/"+req.ID, "agent:a2", nil), http.StatusNotFound)
	expectStatus(t, call(t, h, http.MethodPost, "/api/v1/rewards/requests/"+req.ID+"/approve", admin, nil), http.StatusOK)
	rec = call(t, h, http.MethodGet, "/api/v1/rewards/requests/"+req.ID, admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[rewards.Request](t, rec); got.Status != rewards.RequestApproved || got.ResolvedBy != "root" {
		t.Fatalf("unexpected request: %+v", got)
	}
	expectStatus(t, call(t, h, http.MethodPost, "/api/v1/rewards/requests/"+req.ID+"/reject", admin, nil), http.StatusConflict)

	expectStatus(t, call(t, h, http.MethodPost, base+"/archive", requester, nil), http.StatusOK)
	rec = call(t, h, http.MethodGet, "/api/v1/orders?archived=true", requester, nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeBody[listResponse](t, rec); len(list.Orders) != 1 || list.Orders[0].ID != created.ID {
		t.Fatalf("unexpected archived list: %+v", list)
	}
	rec = call(t, h, http.MethodGet, "/api/v1/orders/counts", requester, nil)
	expectStatus(t, rec, http.StatusOK)
	if counts := decodeBody[visibility.Counts](t, rec); counts.Active != 0 || counts.Archived != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(t, Config{})
	rec := call(t, h, http.MethodPost, "/api/v1/orders", requester, settlement.Draft{ProductName: "lens"})
	created := decodeBody[order.Order](t, rec)
	base := "/api/v1/orders/" + created.ID

	rec = call(t, h, http.MethodPost, base+"/claim", requester, nil)
	expectStatus(t, rec, http.StatusForbidden)
	if body := decodeBody[errorBody](t, rec); body.Code != xerrors.CodeAuthorization {
		t.Fatalf("unexpected body: %+v", body)
	}

	rec = call(t, h, http.MethodPost, base+"/verify-payment", admin, nil)
	expectStatus(t, rec, http.StatusConflict)
	body := decodeBody[errorBody](t, rec)
	if body.Code != xerrors.CodeInvalidTransition || body.Metadata["current"] != string(order.StatusPublished) {
		t.Fatalf("unexpected body: %+v", body)
	}

	expectStatus(t, call(t, h, http.MethodGet, "/api/v1/orders/missing", admin, nil), http.StatusNotFound)
	expectStatus(t, call(t, h, http.MethodPost, "/api/v1/orders", requester, "not an object"), http.StatusBadRequest)
	expectStatus(t, call(t, h, http.MethodGet, "/api/v1/orders?limit=-1", requester, nil), http.StatusBadRequest)

	expectStatus(t, call(t, h, http.MethodPost, base+"/claim", agent, nil), http.StatusOK)
	rec = call(t, h, http.MethodPost, base+"/claim", "agent:a2", nil)
	expectStatus(t, rec, http.StatusConflict)
	if body := decodeBody[errorBody](t, rec); body.Code != xerrors.CodeConflict {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCancelRouteDispatchesByRole(t *testing.T) {
	h := newTestServer(t, Config{})
	rec := call(t, h, http.MethodPost, "/api/v1/orders", requester, settlement.Draft{ProductName: "strap"})
	created := decodeBody[order.Order](t, rec)
	base := "/api/v1/orders/" + created.ID

	expectStatus(t, call(t, h, http.MethodPost, base+"/claim", agent, nil), http.StatusOK)
	expectStatus(t, call(t, h, http.MethodPost, base+"/cancel", agent, map[string]string{"reason": "no"}), http.StatusBadRequest)
	rec = call(t, h, http.MethodPost, base+"/cancel", agent, map[string]string{"reason": "seller closed"})
	expectStatus(t, rec, http.StatusOK)
	if o := decodeBody[order.Order](t, rec); o.Status != order.StatusCancelled || o.CancelledBy != auth.RoleAgent {
		t.Fatalf("unexpected order: %+v", o)
	}
	expectStatus(t, call(t, h, http.MethodPost, base+"/cancel", requester, nil), http.StatusConflict)
}

func TestRateLimitPerActor(t *testing.T) {
	h := newTestServer(t, Config{RateLimit: 0.001, Burst: 1})
	expectStatus(t, call(t, h, http.MethodGet, "/api/v1/orders", requester, nil), http.StatusOK)
	rec := call(t, h, http.MethodGet, "/api/v1/orders", requester, nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if body := decodeBody[errorBody](t, rec); body.Code != CodeRateLimited {
		t.Fatalf("unexpected body: %+v", body)
	}
	expectStatus(t, call(t, h, http.MethodGet, "/api/v1/orders", "requester:r2", nil), http.StatusOK)
}
