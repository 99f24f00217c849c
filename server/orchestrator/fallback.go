package orchestrator

import (
	"context"
	"fmt"

	"github.com/hrygo/dealsense/plugin/decision"
	nerrors "github.com/hrygo/dealsense/server/internal/errors"
	"github.com/hrygo/dealsense/server/internal/observability"
	"github.com/hrygo/dealsense/store"
)

// defaultFallbackDiscountPct applies when the user stated no discount target.
const defaultFallbackDiscountPct = 10.0

// completeFallback lands the session in completed with a locally simulated
// outcome. Used when no real counterpart can be negotiated with; the cause
// records which stage gave up. Every step and the resulting offer are tagged
// so the simulated result can never be mistaken for a real deal.
func (o *Orchestrator) completeFallback(ctx context.Context, sctx *observability.SessionContext, session *store.NegotiationSession, assessment *decision.Assessment, cause *nerrors.NegotiationError) (store.Status, error) {
	reason := cause.Message
	discountPct := defaultFallbackDiscountPct
	if prefs := session.Preferences; prefs != nil && prefs.TargetDiscountPct > 0 {
		discountPct = prefs.TargetDiscountPct
	}

	price := session.Product.Price * (1 - discountPct/100)
	if assessment != nil && assessment.TargetPrice > 0 && assessment.TargetPrice < price {
		price = assessment.TargetPrice
	}
	if prefs := session.Preferences; prefs != nil && prefs.MaxPrice > 0 && price > prefs.MaxPrice {
		price = prefs.MaxPrice
	}

	session.CurrentOffer = &store.Offer{
		Price:    price,
		Currency: session.Product.Currency,
		Rounds:   1,
	}
	session.AppendStep(store.NegotiationStep{
		Round:      1,
		Action:     store.StepFallback,
		Reasoning:  fmt.Sprintf("simulated outcome: %s", reason),
		Provenance: store.ProvenanceFallback,
		Detail: mustDetail(map[string]any{
			"reason":       reason,
			"code":         cause.GetCode(),
			"discount_pct": discountPct,
			"price":        price,
		}),
	})

	if err := o.completeSession(ctx, session); err != nil {
		return store.StatusFailed, err
	}
	sctx.Info("negotiation completed via simulated fallback")
	return store.StatusCompleted, nil
}
