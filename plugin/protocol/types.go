package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned when an operation is invoked without a
	// live connection.
	ErrNotConnected = errors.New("protocol client is not connected")
	// ErrUnsupportedOperation is returned when the remote party does not
	// expose the requested operation.
	ErrUnsupportedOperation = errors.New("operation not supported by remote party")
)

// envelope is the generic wire wrapper for every remote call.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// InvokeResult is the unwrapped outcome of a remote invocation. Malformed
// remote payloads are mapped to a plain Message rather than a hard failure.
type InvokeResult struct {
	Success bool
	Data    json.RawMessage
	Message string
}

// Decode unmarshals the result data into out.
func (r *InvokeResult) Decode(out any) error {
	if len(r.Data) == 0 {
		return errors.New("result carries no structured data")
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return errors.Wrap(err, "failed to decode invoke result")
	}
	return nil
}

// Remote operation names.
const (
	OpInitiateNegotiation = "initiateNegotiation"
	OpMakeOffer           = "makeOffer"
	OpGetProductInfo      = "getProductInfo"
	OpCheckDealStatus     = "checkDealStatus"
	OpAcceptDeal          = "acceptDeal"
)

// BuyerContext summarizes the buyer side when opening a negotiation.
type BuyerContext struct {
	InterestScore float64 `json:"interest_score"`
	Strategy      string  `json:"strategy,omitempty"`
	Note          string  `json:"note,omitempty"`
}

// RemoteOffer is the seller's proposed terms.
type RemoteOffer struct {
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Message  string  `json:"message,omitempty"`
	Final    bool    `json:"final,omitempty"`
}

// NegotiationOpened is the remote response to initiateNegotiation.
type NegotiationOpened struct {
	Greeting     string       `json:"greeting,omitempty"`
	InitialOffer *RemoteOffer `json:"initial_offer,omitempty"`
}

// OfferParams carries a buyer offer. Price, bundle, and quantity variants
// all travel through the same operation, with a persuasive message field.
type OfferParams struct {
	Price       float64  `json:"price"`
	Quantity    int      `json:"quantity,omitempty"`
	BundleItems []string `json:"bundle_items,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// ProductInfo is the remote's product record.
type ProductInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ListPrice   float64 `json:"list_price"`
	Currency    string  `json:"currency"`
	InStock     bool    `json:"in_stock"`
	Description string  `json:"description,omitempty"`
}

// DealStatus is the remote's view of an in-flight negotiation.
type DealStatus struct {
	State       string  `json:"state"`
	AgreedPrice float64 `json:"agreed_price,omitempty"`
}

// AcceptResult confirms (or not) a deal acceptance.
type AcceptResult struct {
	Confirmed bool    `json:"confirmed"`
	OrderRef  string  `json:"order_ref,omitempty"`
	Price     float64 `json:"price,omitempty"`
}
