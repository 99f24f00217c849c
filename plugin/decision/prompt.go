package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hrygo/dealsense/store"
)

const assessSystemPrompt = `You are a buyer-side purchasing assistant. Decide whether an automated price negotiation is worth starting for the product described by the user. Consider the price, the buyer's interest signals, and the seller's capabilities. Respond only with the requested JSON.`

const evaluateSystemPrompt = `You are a buyer-side negotiation agent in a multi-round price negotiation. Given the seller's latest offer and the history so far, decide whether to accept, reject, or counter. A counter decision must include a concrete counter price below the seller's offer and a short persuasive message. Respond only with the requested JSON.`

func buildAssessPrompt(dctx *Context) string {
	session := dctx.Session
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s at %.2f %s\n", session.Product.Name, session.Product.Price, session.Product.Currency)
	if session.Product.Seller != "" {
		fmt.Fprintf(&b, "Listed by: %s\n", session.Product.Seller)
	}
	fmt.Fprintf(&b, "Buyer interest score: %.2f (dwell %ds, price checks %d, cart attempts %d)\n",
		session.Behavior.InterestScore,
		session.Behavior.DwellSeconds,
		session.Behavior.PriceChecks,
		session.Behavior.CartAttempts)
	if len(dctx.SellerCapabilities) > 0 {
		fmt.Fprintf(&b, "Seller capabilities: %s\n", strings.Join(dctx.SellerCapabilities, ", "))
	}
	return b.String()
}

func buildEvaluatePrompt(dctx *Context, offer store.Offer, round int, history []store.NegotiationStep) string {
	session := dctx.Session
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s, original price %.2f %s\n", session.Product.Name, session.Product.Price, session.Product.Currency)
	fmt.Fprintf(&b, "Seller's current offer: %.2f %s\n", offer.Price, offer.Currency)
	fmt.Fprintf(&b, "Round %d\n", round)
	if prefs := session.Preferences; prefs != nil {
		if prefs.MaxPrice > 0 {
			fmt.Fprintf(&b, "Hard maximum acceptable price: %.2f\n", prefs.MaxPrice)
		}
		if prefs.TargetDiscountPct > 0 {
			fmt.Fprintf(&b, "Desired discount: %.0f%%\n", prefs.TargetDiscountPct)
		}
		if prefs.Strategy != "" {
			fmt.Fprintf(&b, "Strategy: %s\n", prefs.Strategy)
		}
		if prefs.CustomNote != "" {
			fmt.Fprintf(&b, "Buyer note: %s\n", prefs.CustomNote)
		}
	}
	if len(history) > 0 {
		b.WriteString("History:\n")
		for _, step := range history {
			fmt.Fprintf(&b, "- round %d %s", step.Round, step.Action)
			if step.Reasoning != "" {
				fmt.Fprintf(&b, ": %s", step.Reasoning)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// jsonSchema implements json.Marshaler for the backend's JSON Schema format.
type jsonSchema struct {
	Type                 string                 `json:"type"`
	Properties           map[string]*jsonSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	Description          string                 `json:"description,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

func (s *jsonSchema) MarshalJSON() ([]byte, error) {
	type alias jsonSchema
	return json.Marshal((*alias)(s))
}

var assessJSONSchema = &jsonSchema{
	Type: "object",
	Properties: map[string]*jsonSchema{
		"should_negotiate": {Type: "boolean", Description: "Whether a negotiation is worth starting"},
		"target_price":     {Type: "number", Description: "Suggested target price"},
		"strategy": {
			Type: "string",
			Enum: []string{"aggressive", "balanced", "conservative"},
		},
		"reasoning":  {Type: "string"},
		"confidence": {Type: "number", Description: "Confidence score between 0 and 1"},
	},
	Required:             []string{"should_negotiate", "reasoning", "confidence"},
	AdditionalProperties: false,
}

var evaluateJSONSchema = &jsonSchema{
	Type: "object",
	Properties: map[string]*jsonSchema{
		"decision": {
			Type: "string",
			Enum: []string{"accept", "reject", "counter"},
		},
		"counter_price":   {Type: "number", Description: "Required when decision is counter"},
		"counter_message": {Type: "string", Description: "Persuasive message for a counter offer"},
		"reasoning":       {Type: "string"},
		"confidence":      {Type: "number", Description: "Confidence score between 0 and 1"},
	},
	Required:             []string{"decision", "reasoning", "confidence"},
	AdditionalProperties: false,
}
