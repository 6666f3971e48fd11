package api

import (
	"context"
	"net/http"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/order"
	"PurchaseRelay/internal/report"
	"PurchaseRelay/internal/rewards"
	"PurchaseRelay/internal/settlement"
)

func (s *Server) routes(mux *http.ServeMux) {
	s.handle(mux, "POST /api/v1/orders", s.handleCreateOrder)
	s.handle(mux, "POST /api/v1/bundles", s.handleCreateBundle)
	s.handle(mux, "GET /api/v1/orders", s.handleListOrders)
	s.handle(mux, "GET /api/v1/orders/counts", s.handleCounts)
	s.handle(mux, "GET /api/v1/orders/{id}", s.handleGetOrder)
	s.handle(mux, "GET /api/v1/orders/{id}/report", s.handleGetReport)
	s.handle(mux, "GET /api/v1/orders/{id}/amount", s.handleAmount)
	s.handle(mux, "POST /api/v1/orders/{id}/claim", s.orderAction(s.engine.Claim))
	s.handle(mux, "POST /api/v1/orders/{id}/report", s.handleSubmitReport)
	s.handle(mux, "PATCH /api/v1/orders/{id}/report", s.handleUpdateReport)
	s.handle(mux, "POST /api/v1/orders/{id}/cancel", s.reasonAction(s.engine.Cancel))
	s.handle(mux, "POST /api/v1/orders/{id}/verify-payment", s.orderAction(s.engine.VerifyPayment))
	s.handle(mux, "POST /api/v1/orders/{id}/cancel-payment", s.reasonAction(s.engine.CancelPayment))
	s.handle(mux, "POST /api/v1/orders/{id}/force-cancel", s.reasonAction(s.engine.AdminForceCancel))
	s.handle(mux, "POST /api/v1/orders/{id}/track-code", s.handleTrackCode)
	s.handle(mux, "POST /api/v1/orders/{id}/credit", s.orderAction(s.engine.CreditAgentPayment))
	s.handle(mux, "POST /api/v1/orders/{id}/credit/retry", s.orderAction(s.engine.RetryRewardCredit))
	s.handle(mux, "POST /api/v1/orders/{id}/archive", s.orderAction(s.engine.Archive))
	s.handle(mux, "DELETE /api/v1/bundles/{id}/items/{itemId}", s.handleRemoveItem)

	s.handle(mux, "POST /api/v1/rewards/requests", s.handleCreateRewardRequest)
	s.handle(mux, "GET /api/v1/rewards/requests", s.handleListRewardRequests)
	s.handle(mux, "GET /api/v1/rewards/requests/{id}", s.rewardAction(s.rewards.GetRequest))
	s.handle(mux, "POST /api/v1/rewards/requests/{id}/approve", s.rewardAction(s.rewards.Approve))
	s.handle(mux, "POST /api/v1/rewards/requests/{id}/reject", s.rewardAction(s.rewards.Reject))
	s.handle(mux, "GET /api/v1/rewards/balance", s.handleBalance)
}

// actor 从上下文读取调用方，认证中间件保证其存在。
func actor(r *http.Request) auth.Actor {
	a, _ := auth.ActorFromContext(r.Context())
	return a
}

type orderFunc func(ctx context.Context, actor auth.Actor, id string) (*order.Order, error)

type reasonFunc func(ctx context.Context, actor auth.Actor, id, reason string) (*order.Order, error)

type rewardFunc func(ctx context.Context, actor auth.Actor, id string) (*rewards.Request, error)

func (s *Server) orderAction(fn orderFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := fn(r.Context(), actor(r), r.PathValue("id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (s *Server) reasonAction(fn reasonFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body reasonBody
		if err := decode(r, &body, true); err != nil {
			fail(w, r, err)
			return
		}
		o, err := fn(r.Context(), actor(r), r.PathValue("id"), body.Reason)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func (s *Server) rewardAction(fn rewardFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := fn(r.Context(), actor(r), r.PathValue("id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var draft settlement.Draft
	if err := decode(r, &draft, false); err != nil {
		fail(w, r, err)
		return
	}
	o, err := s.engine.CreateOrder(r.Context(), actor(r), draft)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleCreateBundle(w http.ResponseWriter, r *http.Request) {
	var draft settlement.BundleDraft
	if err := decode(r, &draft, false); err != nil {
		fail(w, r, err)
		return
	}
	o, err := s.engine.CreateBundle(r.Context(), actor(r), draft)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

type listResponse struct {
	Orders []*order.Order `json:"orders"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	archived, err := boolQuery(r, "archived")
	if err != nil {
		fail(w, r, err)
		return
	}
	limit, err := intQuery(r, "limit", 20)
	if err != nil {
		fail(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		fail(w, r, err)
		return
	}
	opts := order.BuildListOptions(order.WithLimit(limit), order.WithOffset(offset))
	orders, err := s.views.List(r.Context(), actor(r), archived, order.WithLimit(opts.Limit), order.WithOffset(opts.Offset))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Orders: orders, Limit: opts.Limit, Offset: opts.Offset})
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.views.Counts(r.Context(), actor(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.GetOrder(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.GetReport(r.Context(), actor(r), r.PathValue("id"), r.URL.Query().Get("item_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleAmount(w http.ResponseWriter, r *http.Request) {
	quote, err := s.engine.RequesterAmount(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	var sub settlement.Submission
	if err := decode(r, &sub, false); err != nil {
		fail(w, r, err)
		return
	}
	o, err := s.engine.SubmitReport(r.Context(), actor(r), r.PathValue("id"), sub)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type updateReportBody struct {
	ItemID string `json:"item_id,omitempty"`
	report.Update
}

func (s *Server) handleUpdateReport(w http.ResponseWriter, r *http.Request) {
	var body updateReportBody
	if err := decode(r, &body, false); err != nil {
		fail(w, r, err)
		return
	}
	o, err := s.engine.UpdateReport(r.Context(), actor(r), r.PathValue("id"), body.ItemID, body.Update)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type trackCodeBody struct {
	TrackCode string `json:"track_code"`
}

func (s *Server) handleTrackCode(w http.ResponseWriter, r *http.Request) {
	var body trackCodeBody
	if err := decode(r, &body, false); err != nil {
		fail(w, r, err)
		return
	}
	o, err := s.engine.AssignTrackCode(r.Context(), actor(r), r.PathValue("id"), body.TrackCode)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.RemoveItem(r.Context(), actor(r), r.PathValue("id"), r.PathValue("itemId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCreateRewardRequest(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	req, err := s.rewards.CreateRequest(r.Context(), caller, caller.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRewardRequests(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		fail(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		fail(w, r, err)
		return
	}
	filter := rewards.Filter{AgentID: r.URL.Query().Get("agent_id"), Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := rewards.RequestStatus(raw)
		switch status {
		case rewards.RequestPending, rewards.RequestApproved, rewards.RequestRejected:
		default:
			fail(w, r, xerrors.Newf(xerrors.CodeValidation, "未知的申请状态 %q", raw))
			return
		}
		filter.Statuses = []rewards.RequestStatus{status}
	}
	list, err := s.rewards.List(r.Context(), actor(r), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = caller.ID
	}
	balance, err := s.rewards.Balance(r.Context(), caller, agentID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "balance": balance})
}
