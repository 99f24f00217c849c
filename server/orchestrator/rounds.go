package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/dealsense/plugin/decision"
	"github.com/hrygo/dealsense/plugin/discovery"
	"github.com/hrygo/dealsense/plugin/protocol"
	nerrors "github.com/hrygo/dealsense/server/internal/errors"
	"github.com/hrygo/dealsense/server/internal/observability"
	"github.com/hrygo/dealsense/store"
)

// negotiate runs one session from pending to a terminal state. The returned
// status is the terminal outcome; a non-nil error means the caller must land
// the session in failed itself.
func (o *Orchestrator) negotiate(ctx context.Context, sctx *observability.SessionContext, session *store.NegotiationSession, state *runState) (store.Status, error) {
	session.Status = store.StatusActive
	if err := o.persistProgress(ctx, session, 0); err != nil {
		return store.StatusFailed, err
	}

	// Round 0: is this worth negotiating at all.
	assessment, err := o.engine.AssessOpportunity(ctx, &decision.Context{Session: session})
	if err != nil {
		return store.StatusFailed, nerrors.EngineUnavailable("opportunity assessment failed", err)
	}
	session.AppendStep(store.NegotiationStep{
		Round:      0,
		Action:     store.StepAnalyze,
		Reasoning:  assessment.Reasoning,
		Provenance: store.ProvenanceReal,
		Detail:     mustDetail(map[string]any{"target_price": assessment.TargetPrice, "strategy": assessment.Strategy}),
	})
	if err := o.persistProgress(ctx, session, 0); err != nil {
		return store.StatusFailed, err
	}
	if !assessment.ShouldNegotiate && !session.Manual {
		reason := "not worth negotiating"
		if assessment.Reasoning != "" {
			reason = fmt.Sprintf("not worth negotiating: %s", assessment.Reasoning)
		}
		o.failSession(ctx, session, reason)
		return store.StatusFailed, nil
	}

	// Find someone to negotiate with. A fallback-sourced result still carries
	// rankable sellers, so it goes through the normal connect path below.
	result := o.finder.FindSellers(ctx, discovery.Criteria{
		Category: session.Product.Seller,
		MaxPrice: session.Product.Price,
	})
	switch result.Outcome {
	case discovery.OutcomeTransientFailure:
		return o.completeFallback(ctx, sctx, session, assessment, nerrors.RegistryUnavailable(result.Err))
	case discovery.OutcomeNotFound:
		return o.completeFallback(ctx, sctx, session, assessment, nerrors.NoSellersFound("no sellers matched the product"))
	}

	conn := o.connect()
	defer conn.Disconnect()

	seller, err := o.connectFirst(ctx, sctx, conn, result.Sellers)
	if err != nil {
		return o.completeFallback(ctx, sctx, session, assessment, nerrors.ProtocolFailed("no seller endpoint reachable", err))
	}
	session.Seller = seller
	if err := o.persistProgress(ctx, session, 0); err != nil {
		return store.StatusFailed, err
	}
	sellerLog := sctx.WithFields(slog.String(observability.LogFieldSellerID, seller.ID))

	state.setWaiting(true)
	opened, err := conn.InitiateNegotiation(ctx, session.ID, session.Product.ID, protocol.BuyerContext{
		InterestScore: session.Behavior.InterestScore,
		Strategy:      string(assessment.Strategy),
	})
	state.setWaiting(false)
	if err != nil {
		return store.StatusFailed, nerrors.ProtocolFailed("could not open negotiation", err)
	}

	currency := session.Product.Currency
	current := store.Offer{Price: session.Product.Price, Currency: currency}
	if opened.InitialOffer != nil && opened.InitialOffer.Price > 0 {
		current.Price = opened.InitialOffer.Price
		if opened.InitialOffer.Currency != "" {
			current.Currency = opened.InitialOffer.Currency
		}
		session.AppendStep(store.NegotiationStep{
			Round:      0,
			Action:     store.StepOffer,
			Reasoning:  opened.InitialOffer.Message,
			Provenance: store.ProvenanceReal,
			Detail:     mustDetail(opened.InitialOffer),
		})
		offer := current
		session.CurrentOffer = &offer
		if err := o.persistProgress(ctx, session, 0); err != nil {
			return store.StatusFailed, err
		}
	}

	dctx := &decision.Context{Session: session, SellerCapabilities: conn.Capabilities()}

	for round := 1; round <= o.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return store.StatusFailed, classifyContextErr(err)
		}

		// An offer already under the user's stated ceiling needs no judgment
		// call, take it.
		if o.withinPreference(session, current.Price) {
			return o.acceptDeal(ctx, sctx, session, state, conn, current, round, "offer within the configured price ceiling")
		}

		evaluation, err := o.engine.EvaluateOffer(ctx, dctx, current, round, session.Log)
		if err != nil {
			return store.StatusFailed, nerrors.EngineUnavailable("offer evaluation failed", err)
		}
		o.metrics.RecordRound()

		switch evaluation.Decision {
		case decision.DecisionAccept:
			// The engine cannot override the user's ceiling: an accept above
			// MaxPrice never reaches the remote party.
			if prefs := session.Preferences; prefs != nil && prefs.MaxPrice > 0 && current.Price > prefs.MaxPrice {
				session.AppendStep(store.NegotiationStep{
					Round:      round,
					Action:     store.StepReject,
					Reasoning:  fmt.Sprintf("engine accepted %.2f but the configured ceiling is %.2f", current.Price, prefs.MaxPrice),
					Provenance: store.ProvenanceReal,
				})
				if err := o.persistProgress(ctx, session, round); err != nil {
					return store.StatusFailed, err
				}
				o.failSession(ctx, session, "offer exceeds the configured price ceiling")
				return store.StatusFailed, nil
			}
			return o.acceptDeal(ctx, sctx, session, state, conn, current, round, evaluation.Reasoning)

		case decision.DecisionReject:
			session.AppendStep(store.NegotiationStep{
				Round:      round,
				Action:     store.StepReject,
				Reasoning:  evaluation.Reasoning,
				Provenance: store.ProvenanceReal,
			})
			if err := o.persistProgress(ctx, session, round); err != nil {
				return store.StatusFailed, err
			}
			reason := "offer rejected"
			if evaluation.Reasoning != "" {
				reason = fmt.Sprintf("offer rejected: %s", evaluation.Reasoning)
			}
			o.failSession(ctx, session, reason)
			return store.StatusFailed, nil

		case decision.DecisionCounter:
			counter, err := o.counterOffer(ctx, session, state, conn, evaluation, round)
			if err != nil {
				return store.StatusFailed, err
			}
			current.Price = counter.Price
			if counter.Currency != "" {
				current.Currency = counter.Currency
			}
			current.Rounds = round
			offer := current
			session.CurrentOffer = &offer
			if err := o.persistProgress(ctx, session, round); err != nil {
				return store.StatusFailed, err
			}
			sellerLog.Debug("round exchanged",
				slog.Int(observability.LogFieldRound, round),
				slog.Float64("seller_price", counter.Price))

		default:
			return store.StatusFailed, nerrors.ProtocolFailed(
				fmt.Sprintf("unknown decision %q", evaluation.Decision), nil)
		}

		if round < o.maxRounds {
			select {
			case <-time.After(o.roundDelay):
			case <-ctx.Done():
				return store.StatusFailed, classifyContextErr(ctx.Err())
			}
		}
	}

	o.failSession(ctx, session, fmt.Sprintf("round limit reached after %d rounds", o.maxRounds))
	return store.StatusFailed, nil
}

// classifyContextErr maps an expired deadline onto the timeout code so the
// session records why the run stopped. A plain cancel passes through and the
// caller drops the result.
func classifyContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return nerrors.Timeout("negotiation deadline exceeded")
	}
	return err
}

// connectFirst tries the ranked seller list in order and returns the first
// endpoint that accepts a connection.
func (o *Orchestrator) connectFirst(ctx context.Context, sctx *observability.SessionContext, conn SellerConn, sellers []store.SellerEndpoint) (*store.SellerEndpoint, error) {
	for i := range sellers {
		seller := sellers[i]
		if err := conn.Connect(ctx, seller.Endpoint, seller.Credential); err != nil {
			sctx.Warn("seller endpoint unreachable",
				slog.String(observability.LogFieldSellerID, seller.ID),
				slog.String("error", err.Error()))
			continue
		}
		return &seller, nil
	}
	return nil, nerrors.ProtocolFailed("all seller endpoints unreachable", nil)
}

// withinPreference reports whether the offer already satisfies the user's
// explicit price ceiling.
func (o *Orchestrator) withinPreference(session *store.NegotiationSession, price float64) bool {
	prefs := session.Preferences
	return prefs != nil && prefs.MaxPrice > 0 && price <= prefs.MaxPrice
}

// acceptDeal closes the negotiation at the given price and completes the
// session.
func (o *Orchestrator) acceptDeal(ctx context.Context, sctx *observability.SessionContext, session *store.NegotiationSession, state *runState, conn SellerConn, offer store.Offer, round int, reasoning string) (store.Status, error) {
	state.setWaiting(true)
	accepted, err := conn.AcceptDeal(ctx, session.ID, offer.Price)
	state.setWaiting(false)
	if err != nil {
		return store.StatusFailed, nerrors.ProtocolFailed("deal acceptance failed", err)
	}

	price := offer.Price
	if accepted.Price > 0 {
		price = accepted.Price
	}
	session.CurrentOffer = &store.Offer{Price: price, Currency: offer.Currency, Rounds: round}
	session.AppendStep(store.NegotiationStep{
		Round:      round,
		Action:     store.StepAccept,
		Reasoning:  reasoning,
		Provenance: store.ProvenanceReal,
		Detail:     mustDetail(accepted),
	})

	if err := o.completeSession(ctx, session); err != nil {
		return store.StatusFailed, err
	}
	sctx.Info("deal accepted",
		slog.Int(observability.LogFieldRound, round),
		slog.Float64("price", price))
	return store.StatusCompleted, nil
}

// counterOffer sends the buyer counter and records both sides of the
// exchange in the log.
func (o *Orchestrator) counterOffer(ctx context.Context, session *store.NegotiationSession, state *runState, conn SellerConn, evaluation *decision.Evaluation, round int) (*protocol.RemoteOffer, error) {
	if evaluation.NextAction == nil || evaluation.NextAction.OfferPrice <= 0 {
		return nil, nerrors.ProtocolFailed("counter decision carries no usable price", nil)
	}

	params := protocol.OfferParams{
		Price:    evaluation.NextAction.OfferPrice,
		Quantity: evaluation.NextAction.Quantity,
		Message:  evaluation.NextAction.Message,
	}
	session.AppendStep(store.NegotiationStep{
		Round:      round,
		Action:     store.StepCounter,
		Reasoning:  evaluation.Reasoning,
		Provenance: store.ProvenanceReal,
		Detail:     mustDetail(params),
	})

	state.setWaiting(true)
	counter, err := conn.MakeOffer(ctx, session.ID, params)
	state.setWaiting(false)
	if err != nil {
		return nil, nerrors.ProtocolFailed("offer exchange failed", err)
	}

	session.AppendStep(store.NegotiationStep{
		Round:      round,
		Action:     store.StepOffer,
		Reasoning:  counter.Message,
		Provenance: store.ProvenanceReal,
		Detail:     mustDetail(counter),
	})
	return counter, nil
}

// mustDetail marshals the value for the step log. Values here are our own
// structs and maps, marshaling cannot fail in practice.
func mustDetail(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
