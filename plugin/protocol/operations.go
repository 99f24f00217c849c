package protocol

import (
	"context"

	"github.com/pkg/errors"
)

// InitiateNegotiation opens a negotiation for the product on the connected
// remote party.
func (c *Client) InitiateNegotiation(ctx context.Context, sessionID, productID string, buyer BuyerContext) (*NegotiationOpened, error) {
	result, err := c.invokeSupported(ctx, OpInitiateNegotiation, map[string]any{
		"session_id": sessionID,
		"product_id": productID,
		"buyer":      buyer,
	})
	if err != nil {
		return nil, err
	}

	var opened NegotiationOpened
	if len(result.Data) > 0 {
		if err := result.Decode(&opened); err != nil {
			return nil, err
		}
	} else {
		opened.Greeting = result.Message
	}
	return &opened, nil
}

// MakeOffer sends a buyer offer and returns the seller's counter.
func (c *Client) MakeOffer(ctx context.Context, sessionID string, params OfferParams) (*RemoteOffer, error) {
	result, err := c.invokeSupported(ctx, OpMakeOffer, map[string]any{
		"session_id": sessionID,
		"offer":      params,
	})
	if err != nil {
		return nil, err
	}

	var counter RemoteOffer
	if err := result.Decode(&counter); err != nil {
		return nil, err
	}
	return &counter, nil
}

// GetProductInfo fetches the remote's product record.
func (c *Client) GetProductInfo(ctx context.Context, productID string) (*ProductInfo, error) {
	result, err := c.invokeSupported(ctx, OpGetProductInfo, map[string]any{
		"product_id": productID,
	})
	if err != nil {
		return nil, err
	}

	var info ProductInfo
	if err := result.Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CheckDealStatus asks the remote for its view of the negotiation.
func (c *Client) CheckDealStatus(ctx context.Context, sessionID string) (*DealStatus, error) {
	result, err := c.invokeSupported(ctx, OpCheckDealStatus, map[string]any{
		"session_id": sessionID,
	})
	if err != nil {
		return nil, err
	}

	var status DealStatus
	if err := result.Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// AcceptDeal accepts the current terms at the given price.
func (c *Client) AcceptDeal(ctx context.Context, sessionID string, price float64) (*AcceptResult, error) {
	result, err := c.invokeSupported(ctx, OpAcceptDeal, map[string]any{
		"session_id": sessionID,
		"price":      price,
	})
	if err != nil {
		return nil, err
	}

	var accept AcceptResult
	if err := result.Decode(&accept); err != nil {
		return nil, err
	}
	if !accept.Confirmed {
		return nil, errors.New("remote party did not confirm the deal")
	}
	return &accept, nil
}

// invokeSupported checks the remote's advertised capability set before
// invoking and converts unsuccessful envelopes into errors carrying the
// remote's message.
func (c *Client) invokeSupported(ctx context.Context, op string, params any) (*InvokeResult, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	if !c.Supports(op) {
		return nil, errors.Wrap(ErrUnsupportedOperation, op)
	}

	result, err := c.Invoke(ctx, op, params)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "remote returned failure without detail"
		}
		return nil, errors.Errorf("%s rejected: %s", op, msg)
	}
	return result, nil
}
