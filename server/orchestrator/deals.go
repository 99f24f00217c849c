package orchestrator

import (
	"context"
	"sort"
	"time"

	nerrors "github.com/hrygo/dealsense/server/internal/errors"
	"github.com/hrygo/dealsense/store"
)

// Coarse deal states shown to the user.
const (
	DealStateNegotiating   = "negotiating"
	DealStateWaitingSeller = "waiting_seller"
	DealStateYourTurn      = "your_turn"
	DealStateReady         = "deal_ready"
	DealStateFailed        = "failed"
)

// DealView is the user-facing projection of a session.
type DealView struct {
	SessionID     string    `json:"session_id"`
	ProductID     string    `json:"product_id"`
	ProductName   string    `json:"product_name"`
	OriginalPrice float64   `json:"original_price"`
	CurrentPrice  float64   `json:"current_price,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Savings       float64   `json:"savings"`
	Rounds        int       `json:"rounds"`
	State         string    `json:"state"`
	SellerName    string    `json:"seller_name,omitempty"`
	Simulated     bool      `json:"simulated"`
	FailureReason string    `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ListDeals projects every visible session into a deal view, newest first.
func (o *Orchestrator) ListDeals(ctx context.Context) ([]*DealView, error) {
	sessions, err := o.store.ListVisibleSessions(ctx)
	if err != nil {
		return nil, nerrors.StoreFailed(err)
	}

	deals := make([]*DealView, 0, len(sessions))
	for _, session := range sessions {
		deals = append(deals, o.projectDeal(session))
	}
	sort.Slice(deals, func(i, j int) bool {
		return deals[i].UpdatedAt.After(deals[j].UpdatedAt)
	})
	return deals, nil
}

// projectDeal maps one session to its coarse user-facing state.
func (o *Orchestrator) projectDeal(session *store.NegotiationSession) *DealView {
	view := &DealView{
		SessionID:     session.ID,
		ProductID:     session.Product.ID,
		ProductName:   session.Product.Name,
		OriginalPrice: session.Product.Price,
		Currency:      session.Product.Currency,
		Savings:       session.Savings(),
		Rounds:        session.Rounds(),
		Simulated:     simulated(session),
		FailureReason: session.FailureReason,
		UpdatedAt:     session.LastUpdate,
	}
	if session.CurrentOffer != nil {
		view.CurrentPrice = session.CurrentOffer.Price
		if session.CurrentOffer.Currency != "" {
			view.Currency = session.CurrentOffer.Currency
		}
	}
	if session.Seller != nil {
		view.SellerName = session.Seller.Name
	}

	switch session.Status {
	case store.StatusCompleted:
		view.State = DealStateReady
	case store.StatusFailed:
		view.State = DealStateFailed
	case store.StatusPending:
		view.State = DealStateNegotiating
	case store.StatusActive:
		o.mu.Lock()
		state := o.inflight[session.ID]
		o.mu.Unlock()
		switch {
		case state == nil:
			// Active in the store but no loop in this process: the session is
			// waiting to be recovered or acted on.
			view.State = DealStateYourTurn
		case state.isWaiting():
			view.State = DealStateWaitingSeller
		default:
			view.State = DealStateNegotiating
		}
	default:
		view.State = DealStateNegotiating
	}
	return view
}

// simulated reports whether any part of the outcome came from the local
// fallback simulation.
func simulated(session *store.NegotiationSession) bool {
	for _, step := range session.Log {
		if step.Provenance == store.ProvenanceFallback {
			return true
		}
	}
	return false
}
