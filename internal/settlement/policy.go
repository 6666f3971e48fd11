package settlement

import (
	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/order"
)

// Action 标识引擎对外暴露的一项操作。
type Action string

const (
	ActionCreate            Action = "create"
	ActionClaim             Action = "claim"
	ActionSubmitReport      Action = "submit_report"
	ActionUpdateReport      Action = "update_report"
	ActionCancelByAgent     Action = "cancel_by_agent"
	ActionVerifyPayment     Action = "verify_payment"
	ActionCancelPayment     Action = "cancel_payment"
	ActionForceCancel       Action = "force_cancel"
	ActionRequesterCancel   Action = "requester_cancel"
	ActionAssignTrackCode   Action = "assign_track_code"
	ActionCreditAgent       Action = "credit_agent_payment"
	ActionRetryRewardCredit Action = "retry_reward_credit"
	ActionRemoveItem        Action = "remove_item"
	ActionArchive           Action = "archive"
	ActionViewOrder         Action = "view_order"
	ActionViewReport        Action = "view_report"
	ActionViewAmount        Action = "view_amount"
)

var actionRoles = map[Action][]auth.Role{
	ActionCreate:            {auth.RoleRequester},
	ActionClaim:             {auth.RoleAgent},
	ActionSubmitReport:      {auth.RoleAgent},
	ActionUpdateReport:      {auth.RoleAgent},
	ActionCancelByAgent:     {auth.RoleAgent},
	ActionVerifyPayment:     {auth.RoleAdmin},
	ActionCancelPayment:     {auth.RoleAdmin},
	ActionForceCancel:       {auth.RoleAdmin},
	ActionRequesterCancel:   {auth.RoleRequester},
	ActionAssignTrackCode:   {auth.RoleAgent, auth.RoleAdmin},
	ActionCreditAgent:       {auth.RoleAdmin},
	ActionRetryRewardCredit: {auth.RoleAdmin},
	ActionRemoveItem:        {auth.RoleRequester},
	ActionArchive:           {auth.RoleRequester, auth.RoleAgent},
	ActionViewOrder:         {auth.RoleRequester, auth.RoleAgent, auth.RoleAdmin},
	ActionViewReport:        {auth.RoleRequester, auth.RoleAgent, auth.RoleAdmin},
	ActionViewAmount:        {auth.RoleRequester, auth.RoleAgent, auth.RoleAdmin},
}

// AuthorizeRole 只检查角色是否可以执行该操作，不涉及订单归属。
func AuthorizeRole(action Action, actor auth.Actor) error {
	if !actor.Valid() {
		return xerrors.New(xerrors.CodeAuthorization, "调用方未认证")
	}
	for _, role := range actionRoles[action] {
		if role == actor.Role {
			return nil
		}
	}
	return xerrors.New(xerrors.CodeAuthorization, "角色 "+string(actor.Role)+" 不能执行 "+string(action),
		xerrors.WithMetadata("action", string(action)),
		xerrors.WithMetadata("role", string(actor.Role)),
	)
}

// Authorize 判断 actor 能否对订单执行 action，包括角色与归属两方面。
// 状态守卫不在这里检查。
func Authorize(action Action, actor auth.Actor, o *order.Order) error {
	if err := AuthorizeRole(action, actor); err != nil {
		return err
	}
	if o == nil {
		return nil
	}
	owner := actor.Role == auth.RoleRequester && o.RequesterID == actor.ID
	assigned := actor.Role == auth.RoleAgent && o.AgentID != "" && o.AgentID == actor.ID
	admin := actor.Role == auth.RoleAdmin

	var ok bool
	switch action {
	case ActionCreate, ActionClaim, ActionVerifyPayment, ActionCancelPayment,
		ActionForceCancel, ActionCreditAgent, ActionRetryRewardCredit:
		ok = true
	case ActionSubmitReport, ActionUpdateReport, ActionCancelByAgent:
		ok = assigned
	case ActionRequesterCancel, ActionRemoveItem:
		ok = owner
	case ActionAssignTrackCode:
		ok = assigned || admin
	case ActionArchive, ActionViewReport, ActionViewAmount:
		ok = owner || assigned || admin
	case ActionViewOrder:
		ok = owner || assigned || admin || (actor.Role == auth.RoleAgent && o.Unclaimed())
	}
	if ok {
		return nil
	}
	return xerrors.New(xerrors.CodeAuthorization, "调用方无权操作该订单",
		xerrors.WithMetadata("action", string(action)),
		xerrors.WithMetadata("order_id", o.ID),
	)
}
