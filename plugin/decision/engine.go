// Package decision produces accept/reject/counter decisions for a
// negotiation. It is backed by an OpenAI-compatible reasoning service with
// strict response validation: anything unparseable collapses to a safe
// default ("no deal"), never to an unvalidated action.
package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/dealsense/store"
)

// Decision is the engine's verdict on an offer.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionReject  Decision = "reject"
	DecisionCounter Decision = "counter"
)

// Context carries everything the engine needs about the negotiation.
type Context struct {
	Session            *store.NegotiationSession
	SellerCapabilities []string
}

// Assessment is the pre-negotiation verdict.
type Assessment struct {
	ShouldNegotiate bool
	Reasoning       string
	TargetPrice     float64
	Strategy        store.Strategy
	Confidence      float64
}

// NextAction carries the concrete parameters for a counter decision.
type NextAction struct {
	OfferPrice float64
	Message    string
	Quantity   int
}

// Evaluation is the verdict on a specific remote offer.
type Evaluation struct {
	Decision   Decision
	Reasoning  string
	NextAction *NextAction
	Confidence float64
}

// Completer is the slice of the OpenAI client the engine uses.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds the reasoning backend configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Engine delegates decisions to the reasoning backend.
type Engine struct {
	client  Completer
	model   string
	timeout time.Duration
}

// NewEngine creates an engine against an OpenAI-compatible backend. With an
// empty API key the engine runs in degraded mode and only produces safe
// defaults (and preference short-circuits).
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
	if e.model == "" {
		e.model = "gpt-4o-mini"
	}
	if e.timeout == 0 {
		e.timeout = 10 * time.Second
	}
	if cfg.APIKey != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		e.client = openai.NewClientWithConfig(clientConfig)
	}
	return e
}

// NewEngineWithCompleter wires a custom backend. Used by tests.
func NewEngineWithCompleter(client Completer, model string) *Engine {
	return &Engine{client: client, model: model, timeout: 10 * time.Second}
}

// AssessOpportunity decides whether a negotiation is worth starting. When
// the session carries explicit user preferences it short-circuits to the
// user's instruction; the backend is never asked to override it.
func (e *Engine) AssessOpportunity(ctx context.Context, dctx *Context) (*Assessment, error) {
	session := dctx.Session

	if prefs := session.Preferences; prefs != nil {
		target := prefs.MaxPrice
		if target <= 0 && prefs.TargetDiscountPct > 0 {
			target = session.Product.Price * (1 - prefs.TargetDiscountPct/100)
		}
		if target <= 0 {
			target = session.Product.Price * 0.9
		}
		strategy := prefs.Strategy
		if strategy == "" {
			strategy = store.StrategyBalanced
		}
		return &Assessment{
			ShouldNegotiate: true,
			Reasoning:       "explicit user preferences present",
			TargetPrice:     target,
			Strategy:        strategy,
			Confidence:      1,
		}, nil
	}

	if e.client == nil {
		return safeAssessment("reasoning backend not configured"), nil
	}

	content, err := e.complete(ctx, assessSystemPrompt, buildAssessPrompt(dctx), assessJSONSchema, "opportunity_assessment")
	if err != nil {
		slog.Warn("opportunity assessment failed, using safe default", "error", err, "session_id", session.ID)
		return safeAssessment("reasoning backend unavailable"), nil
	}

	assessment, ok := parseAssessment(content, session.Product.Price)
	if !ok {
		slog.Warn("unparseable assessment response, using safe default", "session_id", session.ID)
		return safeAssessment("unparseable reasoning response"), nil
	}
	return assessment, nil
}

// EvaluateOffer produces accept/reject/counter for the latest remote offer.
// The result always carries one of the three decisions; a counter without a
// concrete next action is coerced to reject at this boundary.
func (e *Engine) EvaluateOffer(ctx context.Context, dctx *Context, offer store.Offer, round int, history []store.NegotiationStep) (*Evaluation, error) {
	session := dctx.Session

	if e.client == nil {
		return safeEvaluation("reasoning backend not configured"), nil
	}

	content, err := e.complete(ctx, evaluateSystemPrompt, buildEvaluatePrompt(dctx, offer, round, history), evaluateJSONSchema, "offer_evaluation")
	if err != nil {
		slog.Warn("offer evaluation failed, using safe default", "error", err, "session_id", session.ID, "round", round)
		return safeEvaluation("reasoning backend unavailable"), nil
	}

	evaluation, ok := parseEvaluation(content)
	if !ok {
		slog.Warn("unparseable evaluation response, using safe default", "session_id", session.ID, "round", round)
		return safeEvaluation("unparseable reasoning response"), nil
	}
	return evaluation, nil
}

func (e *Engine) complete(ctx context.Context, system, user string, schema *jsonSchema, schemaName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       e.model,
		MaxTokens:   300,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Strict: true,
				Schema: schema,
			},
		},
	}

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyResponse
	}

	slog.Debug("reasoning backend call completed",
		"latency_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

func safeAssessment(reason string) *Assessment {
	return &Assessment{ShouldNegotiate: false, Reasoning: reason, Confidence: 0}
}

func safeEvaluation(reason string) *Evaluation {
	return &Evaluation{Decision: DecisionReject, Reasoning: reason, Confidence: 0}
}
