package service

import (
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Effect is the escrow side effect a committed transition triggers.
type Effect string

const (
	EffectNone    Effect = "none"
	EffectRelease Effect = "release"
	EffectRefund  Effect = "refund"
)

type edge struct {
	from models.OrderStatus
	to   models.OrderStatus
}

type transitionRule struct {
	roles  []Role
	effect Effect
}

// transitions is the complete order graph. Terminal states have no
// outgoing edges.
var transitions = map[edge]transitionRule{
	{models.OrderPending, models.OrderInProgress}: {roles: []Role{RoleSeller}, effect: EffectNone},
	{models.OrderPending, models.OrderCanceled}:   {roles: []Role{RoleBuyer, RoleSeller}, effect: EffectRefund},
	{models.OrderInProgress, models.OrderPending}: {roles: []Role{RoleBuyer}, effect: EffectNone},
	{models.OrderInProgress, models.OrderReview}:  {roles: []Role{RoleSeller}, effect: EffectNone},
	{models.OrderReview, models.OrderInProgress}:  {roles: []Role{RoleBuyer, RoleSeller}, effect: EffectNone},
	{models.OrderReview, models.OrderCompleted}:   {roles: []Role{RoleBuyer}, effect: EffectRelease},
}

// ResolveRole returns the role actorID plays in order.
func ResolveRole(order *models.Order, actorID int64) (Role, error) {
	switch actorID {
	case order.BuyerID:
		return RoleBuyer, nil
	case order.SellerID:
		return RoleSeller, nil
	}
	return "", pkgerrors.ErrNotOrderParticipant
}

// Transition validates current -> requested for role and returns the
// effect to run once the new status is persisted.
func Transition(current, requested models.OrderStatus, role Role) (Effect, error) {
	if !current.Valid() || !requested.Valid() {
		return "", pkgerrors.ErrInvalidOrderStatus
	}

	rule, ok := transitions[edge{current, requested}]
	if !ok {
		return "", pkgerrors.ErrIllegalTransition
	}
	for _, allowed := range rule.roles {
		if allowed == role {
			return rule.effect, nil
		}
	}
	return "", pkgerrors.ErrTransitionNotPermitted
}

// AllowedTransitions lists the statuses role may move an order to from current.
func AllowedTransitions(current models.OrderStatus, role Role) []models.OrderStatus {
	var next []models.OrderStatus
	for _, to := range models.OrderStatuses {
		if _, err := Transition(current, to, role); err == nil {
			next = append(next, to)
		}
	}
	return next
}
