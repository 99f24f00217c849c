package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSeller is a scripted remote counterpart.
type fakeSeller struct {
	capabilities []string
	connects     atomic.Int32
	disconnects  atomic.Int32
	invokeFn     func(op string, params json.RawMessage) (any, string)
}

func (f *fakeSeller) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		f.connects.Add(1)
		resp := map[string]any{
			"success": true,
			"data": map[string]any{
				"session_token": "tok-123",
				"capabilities":  f.capabilities,
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/disconnect", func(w http.ResponseWriter, r *http.Request) {
		f.disconnects.Add(1)
		fmt.Fprint(w, `{"success": true}`)
	})
	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Op     string          `json:"op"`
			Params json.RawMessage `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		data, errMsg := f.invokeFn(req.Op, req.Params)
		if errMsg != "" {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": errMsg})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
	})
	return httptest.NewServer(mux)
}

func allOps() []string {
	return []string{OpInitiateNegotiation, OpMakeOffer, OpGetProductInfo, OpCheckDealStatus, OpAcceptDeal}
}

func TestConnectCachesCapabilities(t *testing.T) {
	seller := &fakeSeller{capabilities: []string{OpMakeOffer, OpAcceptDeal}}
	ts := seller.server(t)
	defer ts.Close()

	client := NewClient()
	require.NoError(t, client.Connect(context.Background(), ts.URL, "secret"))
	defer client.Disconnect()

	assert.True(t, client.Connected())
	assert.ElementsMatch(t, []string{OpMakeOffer, OpAcceptDeal}, client.Capabilities())
	assert.True(t, client.Supports(OpMakeOffer))
	assert.False(t, client.Supports(OpGetProductInfo))
}

func TestConnectTearsDownPriorConnection(t *testing.T) {
	first := &fakeSeller{capabilities: allOps()}
	second := &fakeSeller{capabilities: allOps()}
	ts1 := first.server(t)
	defer ts1.Close()
	ts2 := second.server(t)
	defer ts2.Close()

	client := NewClient()
	require.NoError(t, client.Connect(context.Background(), ts1.URL, ""))
	require.NoError(t, client.Connect(context.Background(), ts2.URL, ""))
	defer client.Disconnect()

	assert.Equal(t, int32(1), first.disconnects.Load())
	assert.Equal(t, int32(1), second.connects.Load())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	client := NewClient()
	// Never connected: must be a no-op.
	client.Disconnect()
	client.Disconnect()
	assert.False(t, client.Connected())
}

func TestInvokeRequiresConnection(t *testing.T) {
	client := NewClient()
	_, err := client.Invoke(context.Background(), OpMakeOffer, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInvokeMapsNonJSONToPlainMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": true, "data": {"capabilities": []}}`)
	})
	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "deal pending, check back soon")
	})
	mux.HandleFunc("/disconnect", func(w http.ResponseWriter, r *http.Request) {})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := NewClient()
	require.NoError(t, client.Connect(context.Background(), ts.URL, ""))
	defer client.Disconnect()

	result, err := client.Invoke(context.Background(), OpCheckDealStatus, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "deal pending, check back soon", result.Message)
	assert.Empty(t, result.Data)
}

func TestUnsupportedOperation(t *testing.T) {
	seller := &fakeSeller{capabilities: []string{OpMakeOffer}}
	ts := seller.server(t)
	defer ts.Close()

	client := NewClient()
	require.NoError(t, client.Connect(context.Background(), ts.URL, ""))
	defer client.Disconnect()

	_, err := client.GetProductInfo(context.Background(), "prod-1")
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestMakeOfferRoundTrip(t *testing.T) {
	seller := &fakeSeller{
		capabilities: allOps(),
		invokeFn: func(op string, params json.RawMessage) (any, string) {
			require.Equal(t, OpMakeOffer, op)
			return RemoteOffer{Price: 88.5, Currency: "USD", Message: "best I can do"}, ""
		},
	}
	ts := seller.server(t)
	defer ts.Close()

	client := NewClient()
	require.NoError(t, client.Connect(context.Background(), ts.URL, ""))
	defer client.Disconnect()

	counter, err := client.MakeOffer(context.Background(), "sess-1", OfferParams{Price: 85, Message: "loyal customer"})
	require.NoError(t, err)
	assert.Equal(t, 88.5, counter.Price)
	assert.Equal(t, "best I can do", counter.Message)
}

func TestAcceptDealRejectionBecomesError(t *testing.T) {
	seller := &fakeSeller{
		capabilities: allOps(),
		invokeFn: func(op string, params json.RawMessage) (any, string) {
			return nil, "offer expired"
		},
	}
	ts := seller.server(t)
	defer ts.Close()

	client := NewClient()
	require.NoError(t, client.Connect(context.Background(), ts.URL, ""))
	defer client.Disconnect()

	_, err := client.AcceptDeal(context.Background(), "sess-1", 85)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offer expired")
}

func TestInitiateNegotiationDecodesInitialOffer(t *testing.T) {
	seller := &fakeSeller{
		capabilities: allOps(),
		invokeFn: func(op string, params json.RawMessage) (any, string) {
			return NegotiationOpened{
				Greeting:     "welcome",
				InitialOffer: &RemoteOffer{Price: 95, Currency: "USD"},
			}, ""
		},
	}
	ts := seller.server(t)
	defer ts.Close()

	client := NewClient()
	require.NoError(t, client.Connect(context.Background(), ts.URL, ""))
	defer client.Disconnect()

	opened, err := client.InitiateNegotiation(context.Background(), "sess-1", "prod-1", BuyerContext{InterestScore: 0.7})
	require.NoError(t, err)
	require.NotNil(t, opened.InitialOffer)
	assert.Equal(t, 95.0, opened.InitialOffer.Price)
}
