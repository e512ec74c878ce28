package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atomic-235/dex/internal/engine"
	"github.com/atomic-235/dex/internal/order"
	"github.com/atomic-235/dex/internal/router"
	"github.com/atomic-235/dex/internal/token"
	"github.com/atomic-235/dex/internal/venue"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Well-known development key from public testnets, holds no real assets.
const testPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func newOrderService(t *testing.T) (*order.Service, *order.MemoryStore) {
	t.Helper()
	store := order.NewMemoryStore()
	return order.NewService(store, order.NewMemoryQueue(8), 3), store
}

type stubVenue struct{}

func (stubVenue) Name() string { return "uniswap" }

func (stubVenue) Router() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000e0")
}

func (stubVenue) Quote(context.Context, common.Address, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (stubVenue) BuildSwapCall(_, _ common.Address, _, _ *big.Int, _ common.Address, _ *big.Int) (engine.Call, error) {
	return engine.Call{To: common.HexToAddress("0x00000000000000000000000000000000000000e0"), Kind: engine.CallSwap}, nil
}

// stubCaller answers every contract read with zero, so allowance checks
// always see an empty allowance.
type stubCaller struct{}

func (stubCaller) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return make([]byte, 32), nil
}

type stubChain struct{}

func (stubChain) SendTransaction(context.Context, *types.Transaction) error { return nil }

func (stubChain) WaitForReceipt(_ context.Context, hash common.Hash, _ time.Duration) (*types.Receipt, error) {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		GasUsed:     60_000,
		BlockNumber: big.NewInt(7),
	}, nil
}

type stubNonceSource struct{}

func (stubNonceSource) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}

type stubHeaderSource struct{}

func (stubHeaderSource) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1000)}, nil
}

func newTestRouter(t *testing.T) *router.Router {
	t.Helper()
	account, err := engine.NewAccount(testPrivateKey)
	if err != nil {
		t.Fatalf("build test account: %v", err)
	}
	nonces := engine.NewNonceAllocator(stubNonceSource{}, account.Address())
	fees := engine.NewFeeStrategy(stubHeaderSource{}, 50)
	submitter := engine.NewTransactionSubmitter(stubChain{}, nonces, fees, account, big.NewInt(8453))
	approvals := engine.NewApprovalManager(stubCaller{}, submitter, account.Address())
	registry := token.NewRegistry(token.Token{
		Symbol:   "WETH",
		Address:  common.HexToAddress("0x0000000000000000000000000000000000000a01"),
		Decimals: 18,
	})

	rt, err := router.New([]venue.Adapter{stubVenue{}}, registry, stubCaller{}, approvals, submitter,
		engine.NewPendingPairTracker(), account.Address(), router.Options{})
	if err != nil {
		t.Fatalf("build test router: %v", err)
	}
	return rt
}

func TestHandleApprovals(t *testing.T) {
	svc, _ := newOrderService(t)
	server := NewServer(":0", newTestRouter(t), svc, nil)

	body := `{"token":"WETH","amount":"1.5","spender":"uniswap"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals", strings.NewReader(body))
	rec := httptest.NewRecorder()

	server.handleApprovals(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got router.ApproveResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got.Approved || got.TxHash == "" {
		t.Fatalf("expected an approval transaction: %+v", got)
	}
	if got.Token != "WETH" || got.Amount != "1.5" {
		t.Fatalf("unexpected approval result: %+v", got)
	}
}

func TestHandleApprovalsErrors(t *testing.T) {
	svc, _ := newOrderService(t)
	server := NewServer(":0", newTestRouter(t), svc, nil)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/approvals", nil)
		rec := httptest.NewRecorder()

		server.handleApprovals(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals", strings.NewReader("{"))
		rec := httptest.NewRecorder()

		server.handleApprovals(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("unknown spender", func(t *testing.T) {
		body := `{"token":"WETH","amount":"1","spender":"nowhere"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals", strings.NewReader(body))
		rec := httptest.NewRecorder()

		server.handleApprovals(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("router not configured", func(t *testing.T) {
		bare := NewServer(":0", nil, svc, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals", strings.NewReader("{}"))
		rec := httptest.NewRecorder()

		bare.handleApprovals(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})
}

func TestHandleGetSwapSuccess(t *testing.T) {
	svc, store := newOrderService(t)
	server := NewServer(":0", nil, svc, nil)

	sample := &order.Order{
		ID:         "swap-success",
		TokenIn:    "WETH",
		TokenOut:   "USDC",
		Amount:     "1.5",
		Status:     order.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		Result: &order.SwapRecord{
			Venue:  "aerodrome",
			TxHash: "0xabc",
		},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample order: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/swaps/swap-success", nil)
	rec := httptest.NewRecorder()

	server.handleGetSwap(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got order.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected order id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || got.Result.TxHash != "0xabc" {
		t.Fatalf("unexpected order result: %+v", got.Result)
	}
}

func TestHandleGetSwapErrors(t *testing.T) {
	svc, _ := newOrderService(t)
	server := NewServer(":0", nil, svc, nil)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/swaps/swap-1", nil)
		rec := httptest.NewRecorder()

		server.handleGetSwap(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/swaps/", nil)
		rec := httptest.NewRecorder()

		server.handleGetSwap(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/swaps/missing", nil)
		rec := httptest.NewRecorder()

		server.handleGetSwap(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestHandleCreateSwap(t *testing.T) {
	svc, _ := newOrderService(t)
	server := NewServer(":0", nil, svc, nil)

	body := `{"token_in":"WETH","token_out":"USDC","amount":"1.5","max_slippage_bps":50}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/swaps", strings.NewReader(body))
	rec := httptest.NewRecorder()

	server.handleSwaps(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d, body %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var got order.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID == "" || got.Status != order.StatusPending {
		t.Fatalf("unexpected created order: %+v", got)
	}
	if got.MaxSlippageBps != 50 {
		t.Fatalf("unexpected slippage: got %d want 50", got.MaxSlippageBps)
	}
}

func TestHandleCreateSwapErrors(t *testing.T) {
	svc, _ := newOrderService(t)
	server := NewServer(":0", nil, svc, nil)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/swaps", strings.NewReader("{"))
		rec := httptest.NewRecorder()

		server.handleSwaps(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("validation failure", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/swaps", strings.NewReader(`{"token_in":"WETH"}`))
		rec := httptest.NewRecorder()

		server.handleSwaps(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
		var payload map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if payload["code"] != string(order.CodeOrderValidation) {
			t.Fatalf("unexpected error code: %q", payload["code"])
		}
	})
}

func TestHandleListSwapsFiltersByStatus(t *testing.T) {
	svc, store := newOrderService(t)
	server := NewServer(":0", nil, svc, nil)

	orders := []*order.Order{
		{ID: "o-1", TokenIn: "WETH", TokenOut: "USDC", Amount: "1", Status: order.StatusPending, MaxRetries: 3},
		{ID: "o-2", TokenIn: "WETH", TokenOut: "USDC", Amount: "2", Status: order.StatusPending, MaxRetries: 3},
	}
	for _, ord := range orders {
		if err := store.Create(context.Background(), ord); err != nil {
			t.Fatalf("create sample order: %v", err)
		}
	}
	if _, err := store.Claim(context.Background(), "o-2"); err != nil {
		t.Fatalf("claim sample order: %v", err)
	}
	if err := store.MarkSucceeded(context.Background(), "o-2", order.SwapRecord{Venue: "uniswap"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/swaps?status=succeeded", nil)
	rec := httptest.NewRecorder()

	server.handleSwaps(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got []*order.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].ID != "o-2" {
		t.Fatalf("unexpected list result: %+v", got)
	}
}

func TestHandleStats(t *testing.T) {
	svc, store := newOrderService(t)
	server := NewServer(":0", nil, svc, nil)

	if err := store.Create(context.Background(), &order.Order{
		ID: "o-1", TokenIn: "WETH", TokenOut: "USDC", Amount: "1",
		Status: order.StatusPending, MaxRetries: 3,
	}); err != nil {
		t.Fatalf("create sample order: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()

	server.handleStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got order.OrderStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 1 || got.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}
