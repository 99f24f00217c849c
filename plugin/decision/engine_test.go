package decision

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dealsense/store"
)

// fakeCompleter is a scripted reasoning backend.
type fakeCompleter struct {
	content string
	err     error
	calls   int
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func testSession(prefs *store.NegotiationPreferences) *store.NegotiationSession {
	return &store.NegotiationSession{
		ID: "sess-1",
		Product: store.ProductRef{
			ID: "prod-1", Name: "Espresso Machine", Price: 100, Currency: "USD",
		},
		Behavior:    store.BehaviorSignal{InterestScore: 0.75, DwellSeconds: 60},
		Preferences: prefs,
		Status:      store.StatusActive,
	}
}

func TestAssessShortCircuitsOnPreferences(t *testing.T) {
	backend := &fakeCompleter{content: `{"should_negotiate": false, "reasoning": "nope", "confidence": 0.9}`}
	engine := NewEngineWithCompleter(backend, "test-model")

	session := testSession(&store.NegotiationPreferences{MaxPrice: 80, Strategy: store.StrategyAggressive})
	assessment, err := engine.AssessOpportunity(context.Background(), &Context{Session: session})
	require.NoError(t, err)

	assert.True(t, assessment.ShouldNegotiate)
	assert.Equal(t, 80.0, assessment.TargetPrice)
	assert.Equal(t, store.StrategyAggressive, assessment.Strategy)
	// The backend must never be asked to override an explicit instruction.
	assert.Equal(t, 0, backend.calls)
}

func TestAssessTargetFromDiscountPreference(t *testing.T) {
	engine := NewEngineWithCompleter(&fakeCompleter{}, "test-model")
	session := testSession(&store.NegotiationPreferences{TargetDiscountPct: 20})
	assessment, err := engine.AssessOpportunity(context.Background(), &Context{Session: session})
	require.NoError(t, err)
	assert.True(t, assessment.ShouldNegotiate)
	assert.InDelta(t, 80.0, assessment.TargetPrice, 1e-9)
	assert.Equal(t, store.StrategyBalanced, assessment.Strategy)
}

func TestAssessDelegatesToBackend(t *testing.T) {
	backend := &fakeCompleter{content: `{"should_negotiate": true, "target_price": 85, "strategy": "balanced", "reasoning": "high interest", "confidence": 0.8}`}
	engine := NewEngineWithCompleter(backend, "test-model")

	assessment, err := engine.AssessOpportunity(context.Background(), &Context{Session: testSession(nil)})
	require.NoError(t, err)
	assert.True(t, assessment.ShouldNegotiate)
	assert.Equal(t, 85.0, assessment.TargetPrice)
	assert.Equal(t, 1, backend.calls)
}

func TestAssessBackendErrorCollapsesToSafeDefault(t *testing.T) {
	backend := &fakeCompleter{err: errors.New("backend down")}
	engine := NewEngineWithCompleter(backend, "test-model")

	assessment, err := engine.AssessOpportunity(context.Background(), &Context{Session: testSession(nil)})
	require.NoError(t, err)
	assert.False(t, assessment.ShouldNegotiate)
	assert.Equal(t, 0.0, assessment.Confidence)
}

func TestAssessMalformedResponseCollapsesToSafeDefault(t *testing.T) {
	backend := &fakeCompleter{content: `the vibes are good, go for it`}
	engine := NewEngineWithCompleter(backend, "test-model")

	assessment, err := engine.AssessOpportunity(context.Background(), &Context{Session: testSession(nil)})
	require.NoError(t, err)
	assert.False(t, assessment.ShouldNegotiate)
}

func TestAssessSanitizesUselessTarget(t *testing.T) {
	backend := &fakeCompleter{content: `{"should_negotiate": true, "target_price": 150, "reasoning": "r", "confidence": 0.5}`}
	engine := NewEngineWithCompleter(backend, "test-model")

	assessment, err := engine.AssessOpportunity(context.Background(), &Context{Session: testSession(nil)})
	require.NoError(t, err)
	assert.InDelta(t, 90.0, assessment.TargetPrice, 1e-9)
}

func TestEvaluateAccept(t *testing.T) {
	backend := &fakeCompleter{content: `{"decision": "accept", "reasoning": "good price", "confidence": 0.95}`}
	engine := NewEngineWithCompleter(backend, "test-model")

	evaluation, err := engine.EvaluateOffer(context.Background(), &Context{Session: testSession(nil)},
		store.Offer{Price: 82, Currency: "USD"}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, evaluation.Decision)
	assert.Nil(t, evaluation.NextAction)
}

func TestEvaluateCounterCarriesNextAction(t *testing.T) {
	backend := &fakeCompleter{content: `{"decision": "counter", "counter_price": 78.5, "counter_message": "meet me halfway", "reasoning": "room to push", "confidence": 0.7}`}
	engine := NewEngineWithCompleter(backend, "test-model")

	evaluation, err := engine.EvaluateOffer(context.Background(), &Context{Session: testSession(nil)},
		store.Offer{Price: 90, Currency: "USD"}, 1, nil)
	require.NoError(t, err)
	require.Equal(t, DecisionCounter, evaluation.Decision)
	require.NotNil(t, evaluation.NextAction)
	assert.Equal(t, 78.5, evaluation.NextAction.OfferPrice)
	assert.Equal(t, "meet me halfway", evaluation.NextAction.Message)
}

func TestEvaluateCounterWithoutPriceBecomesReject(t *testing.T) {
	backend := &fakeCompleter{content: `{"decision": "counter", "reasoning": "push harder", "confidence": 0.7}`}
	engine := NewEngineWithCompleter(backend, "test-model")

	evaluation, err := engine.EvaluateOffer(context.Background(), &Context{Session: testSession(nil)},
		store.Offer{Price: 90, Currency: "USD"}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionReject, evaluation.Decision)
	assert.Equal(t, 0.0, evaluation.Confidence)
}

func TestEvaluateUnknownDecisionBecomesReject(t *testing.T) {
	backend := &fakeCompleter{content: `{"decision": "escalate", "reasoning": "??", "confidence": 0.4}`}
	engine := NewEngineWithCompleter(backend, "test-model")

	evaluation, err := engine.EvaluateOffer(context.Background(), &Context{Session: testSession(nil)},
		store.Offer{Price: 90, Currency: "USD"}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionReject, evaluation.Decision)
}

func TestEvaluateStripsMarkdownFences(t *testing.T) {
	backend := &fakeCompleter{content: "```json\n{\"decision\": \"accept\", \"reasoning\": \"ok\", \"confidence\": 0.9}\n```"}
	engine := NewEngineWithCompleter(backend, "test-model")

	evaluation, err := engine.EvaluateOffer(context.Background(), &Context{Session: testSession(nil)},
		store.Offer{Price: 85, Currency: "USD"}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, evaluation.Decision)
}

func TestEvaluateWithoutBackendIsSafeDefault(t *testing.T) {
	engine := NewEngine(Config{}) // no API key
	evaluation, err := engine.EvaluateOffer(context.Background(), &Context{Session: testSession(nil)},
		store.Offer{Price: 85, Currency: "USD"}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionReject, evaluation.Decision)
	assert.Equal(t, 0.0, evaluation.Confidence)
}
