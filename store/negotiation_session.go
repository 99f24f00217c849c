package store

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a negotiation session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true for states no session transitions out of,
// except an explicit operator-triggered retry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepAction is the kind of a negotiation log entry.
type StepAction string

const (
	StepAnalyze  StepAction = "analyze"
	StepOffer    StepAction = "offer"
	StepCounter  StepAction = "counter"
	StepAccept   StepAction = "accept"
	StepReject   StepAction = "reject"
	StepFallback StepAction = "fallback"
)

// Provenance distinguishes steps produced by a real remote negotiation
// from steps produced by the local fallback simulation.
type Provenance string

const (
	ProvenanceReal     Provenance = "real"
	ProvenanceFallback Provenance = "fallback"
)

// Strategy tags the negotiation posture.
type Strategy string

const (
	StrategyAggressive   Strategy = "aggressive"
	StrategyBalanced     Strategy = "balanced"
	StrategyConservative Strategy = "conservative"
	StrategyCustom       Strategy = "custom"
)

// SessionTTL is the fixed offset from StartTime after which a session
// becomes invisible to active queries regardless of status.
const SessionTTL = 7 * 24 * time.Hour

// ProductRef is the product snapshot taken at session creation time.
// It is never mutated afterward; price drift on the source page must not
// retroactively alter an in-flight negotiation.
type ProductRef struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	Seller    string  `json:"seller,omitempty"`
	SourceURL string  `json:"source_url,omitempty"`
	ImageURL  string  `json:"image_url,omitempty"`
}

// BehaviorSignal captures passive interest used as strategy input only.
type BehaviorSignal struct {
	InterestScore float64 `json:"interest_score"` // 0..1
	DwellSeconds  int     `json:"dwell_seconds"`
	PriceChecks   int     `json:"price_checks"`
	CartAttempts  int     `json:"cart_attempts"`
}

// NegotiationPreferences are explicit user instructions. When present they
// override default strategy inference.
type NegotiationPreferences struct {
	TargetDiscountPct float64  `json:"target_discount_pct,omitempty"`
	MaxPrice          float64  `json:"max_price,omitempty"`
	Strategy          Strategy `json:"strategy,omitempty"`
	CustomNote        string   `json:"custom_note,omitempty"`
}

// Offer is the last agreed-or-proposed terms.
type Offer struct {
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Rounds   int     `json:"rounds"`
}

// NegotiationStep is one append-only log entry. Round 0 is the
// pre-negotiation analysis.
type NegotiationStep struct {
	Round      int             `json:"round"`
	Action     StepAction      `json:"action"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Reasoning  string          `json:"reasoning,omitempty"`
	Provenance Provenance      `json:"provenance,omitempty"`
}

// SellerMeta is the registry's metadata block for a seller.
type SellerMeta struct {
	Rating          float64  `json:"rating"` // 0..5
	AvgResponseMs   int64    `json:"avg_response_ms"`
	SuccessRate     float64  `json:"success_rate"` // 0..1
	Specialties     []string `json:"specialties,omitempty"`
	PaymentMethods  []string `json:"payment_methods,omitempty"`
	ShippingOptions []string `json:"shipping_options,omitempty"`
}

// SellerEndpoint is a discovery result.
type SellerEndpoint struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Endpoint     string     `json:"endpoint"`
	Credential   string     `json:"credential,omitempty"`
	Capabilities []string   `json:"capabilities"`
	Meta         SellerMeta `json:"meta"`
}

// NegotiationSession is the unit of work.
type NegotiationSession struct {
	ID            string                  `json:"id"`
	Product       ProductRef              `json:"product"`
	Behavior      BehaviorSignal          `json:"behavior"`
	Preferences   *NegotiationPreferences `json:"preferences,omitempty"`
	Manual        bool                    `json:"manual,omitempty"`
	Status        Status                  `json:"status"`
	Seller        *SellerEndpoint         `json:"seller,omitempty"`
	CurrentOffer  *Offer                  `json:"current_offer,omitempty"`
	Log           []NegotiationStep       `json:"log"`
	StartTime     time.Time               `json:"start_time"`
	LastUpdate    time.Time               `json:"last_update"`
	ExpiresAt     time.Time               `json:"expires_at"`
	FailureReason string                  `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy. The round loop and API readers each work on
// their own copy; shared pointers into a live session are never handed out.
func (s *NegotiationSession) Clone() *NegotiationSession {
	clone := *s
	if s.Preferences != nil {
		prefs := *s.Preferences
		clone.Preferences = &prefs
	}
	if s.Seller != nil {
		seller := *s.Seller
		seller.Capabilities = append([]string(nil), s.Seller.Capabilities...)
		seller.Meta.Specialties = append([]string(nil), s.Seller.Meta.Specialties...)
		seller.Meta.PaymentMethods = append([]string(nil), s.Seller.Meta.PaymentMethods...)
		seller.Meta.ShippingOptions = append([]string(nil), s.Seller.Meta.ShippingOptions...)
		clone.Seller = &seller
	}
	if s.CurrentOffer != nil {
		offer := *s.CurrentOffer
		clone.CurrentOffer = &offer
	}
	if s.Log != nil {
		clone.Log = make([]NegotiationStep, len(s.Log))
		copy(clone.Log, s.Log)
		for i := range clone.Log {
			if s.Log[i].Detail != nil {
				clone.Log[i].Detail = append(json.RawMessage(nil), s.Log[i].Detail...)
			}
		}
	}
	return &clone
}

// Savings reports the gap between the snapshot price and the current offer,
// floored at zero. The underlying values are never clamped.
func (s *NegotiationSession) Savings() float64 {
	if s.CurrentOffer == nil {
		return 0
	}
	if d := s.Product.Price - s.CurrentOffer.Price; d > 0 {
		return d
	}
	return 0
}

// Rounds derives the exchanged round count from the log so the value shown
// to the user can never drift from the persisted history.
func (s *NegotiationSession) Rounds() int {
	max := 0
	for _, step := range s.Log {
		if step.Round > max {
			max = step.Round
		}
	}
	return max
}

// AppendStep appends a log entry, keeping round numbers monotonically
// non-decreasing.
func (s *NegotiationSession) AppendStep(step NegotiationStep) {
	if n := len(s.Log); n > 0 && step.Round < s.Log[n-1].Round {
		step.Round = s.Log[n-1].Round
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	s.Log = append(s.Log, step)
}

// Expired reports whether the session is past its expiry instant.
func (s *NegotiationSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Stats aggregates across non-expired sessions.
type Stats struct {
	Total              int64   `json:"total"`
	Active             int64   `json:"active"`
	Completed          int64   `json:"completed"`
	SuccessRate        float64 `json:"success_rate"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	TotalSavings       float64 `json:"total_savings"`
}
