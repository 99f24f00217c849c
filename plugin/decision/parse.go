package decision

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/dealsense/store"
)

var errEmptyResponse = errors.New("empty response from reasoning backend")

var fenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// stripFences removes a markdown code fence around the payload if present.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if matches := fenceRe.FindStringSubmatch(content); len(matches) > 1 {
			content = matches[1]
		}
	}
	return content
}

func parseAssessment(content string, originalPrice float64) (*Assessment, bool) {
	var raw struct {
		ShouldNegotiate bool    `json:"should_negotiate"`
		TargetPrice     float64 `json:"target_price"`
		Strategy        string  `json:"strategy"`
		Reasoning       string  `json:"reasoning"`
		Confidence      float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return nil, false
	}

	assessment := &Assessment{
		ShouldNegotiate: raw.ShouldNegotiate,
		Reasoning:       raw.Reasoning,
		TargetPrice:     raw.TargetPrice,
		Strategy:        mapStrategy(raw.Strategy),
		Confidence:      clamp01(raw.Confidence),
	}
	// A target at or above the snapshot price is useless guidance.
	if assessment.ShouldNegotiate && (assessment.TargetPrice <= 0 || assessment.TargetPrice >= originalPrice) {
		assessment.TargetPrice = originalPrice * 0.9
	}
	return assessment, true
}

func parseEvaluation(content string) (*Evaluation, bool) {
	var raw struct {
		Decision       string  `json:"decision"`
		CounterPrice   float64 `json:"counter_price"`
		CounterMessage string  `json:"counter_message"`
		Reasoning      string  `json:"reasoning"`
		Confidence     float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return nil, false
	}

	evaluation := &Evaluation{
		Reasoning:  raw.Reasoning,
		Confidence: clamp01(raw.Confidence),
	}
	switch strings.ToLower(strings.TrimSpace(raw.Decision)) {
	case "accept":
		evaluation.Decision = DecisionAccept
	case "counter", "continue":
		if raw.CounterPrice <= 0 {
			// A counter without concrete parameters degrades to "no deal".
			evaluation.Decision = DecisionReject
			evaluation.Reasoning = "counter decision lacked a concrete price: " + raw.Reasoning
			evaluation.Confidence = 0
			return evaluation, true
		}
		evaluation.Decision = DecisionCounter
		evaluation.NextAction = &NextAction{
			OfferPrice: raw.CounterPrice,
			Message:    raw.CounterMessage,
		}
	default:
		evaluation.Decision = DecisionReject
	}
	return evaluation, true
}

func mapStrategy(s string) store.Strategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aggressive":
		return store.StrategyAggressive
	case "conservative":
		return store.StrategyConservative
	case "custom":
		return store.StrategyCustom
	default:
		return store.StrategyBalanced
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
