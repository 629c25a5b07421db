package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cross-matching-engine/src/api"
	"cross-matching-engine/src/engine"
)

type memoryHistory struct {
	mu     sync.Mutex
	trades []engine.Trade
	err    error
}

func (m *memoryHistory) Append(trades []engine.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.trades = append(m.trades, trades...)
	return nil
}

func (m *memoryHistory) Recent(limit int) ([]engine.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []engine.Trade{}
	for i := len(m.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.trades[i])
	}
	return out, nil
}

func newTestServer() (*api.Server, *memoryHistory) {
	h := &memoryHistory{}
	return api.NewServer(engine.NewMatchingEngine(), api.Options{History: h}), h
}

func do(t *testing.T, srv http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	var got map[string]interface{}
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	return rr, got
}

func doPost(t *testing.T, srv http.Handler, body string, expStatus int) map[string]interface{} {
	t.Helper()
	rr, got := do(t, srv, http.MethodPost, "/api/v1/orders", []byte(body))
	require.Equal(t, expStatus, rr.Code, "body=%s", rr.Body.String())
	return got
}

func TestCreateOrder_Accepted(t *testing.T) {
	srv, _ := newTestServer()

	got := doPost(t, srv, `{"owner":"A","side":"bid","type":"limit","price":100,"quantity":10}`, http.StatusCreated)
	assert.Equal(t, "ACCEPTED", got["status"])
	assert.Equal(t, float64(1), got["order_id"])
	assert.Equal(t, true, got["order_in_book"])
}

func TestCreateOrder_PartialFill(t *testing.T) {
	srv, hist := newTestServer()

	doPost(t, srv, `{"owner":"S","side":"ask","type":"limit","price":150,"quantity":300}`, http.StatusCreated)
	doPost(t, srv, `{"owner":"S","side":"ask","type":"limit","price":152,"quantity":400}`, http.StatusCreated)

	got := doPost(t, srv, `{"owner":"B","side":"bid","type":"limit","price":153,"quantity":800}`, http.StatusAccepted)
	assert.Equal(t, "PARTIAL_FILL", got["status"])
	assert.Equal(t, float64(700), got["filled_quantity"])
	assert.Equal(t, float64(100), got["remaining_quantity"])
	trades, ok := got["trades"].([]interface{})
	require.True(t, ok)
	assert.Len(t, trades, 2)
	assert.Len(t, hist.trades, 2)
}

func TestCreateOrder_FullFill(t *testing.T) {
	srv, _ := newTestServer()

	doPost(t, srv, `{"owner":"S","side":"SELL","type":"LIMIT","price":100,"quantity":5}`, http.StatusCreated)
	got := doPost(t, srv, `{"owner":"B","side":"BUY","type":"MARKET","quantity":5}`, http.StatusOK)
	assert.Equal(t, "FILLED", got["status"])

	trades := got["trades"].([]interface{})
	require.Len(t, trades, 1)
	trade := trades[0].(map[string]interface{})
	assert.Equal(t, float64(100), trade["price"])
	assert.Equal(t, "market", trade["buyerKind"])
	assert.Equal(t, "limit", trade["sellerKind"])
}

func TestCreateOrder_InsufficientLiquidity_Market(t *testing.T) {
	srv, hist := newTestServer()

	doPost(t, srv, `{"owner":"S","side":"ask","type":"limit","price":100,"quantity":3}`, http.StatusCreated)
	got := doPost(t, srv, `{"owner":"B","side":"bid","type":"market","quantity":500}`, http.StatusBadRequest)
	assert.Contains(t, got["error"], "insufficient liquidity")
	assert.Equal(t, float64(3), got["available"])
	assert.Empty(t, hist.trades)
}

func TestCreateOrder_Validation(t *testing.T) {
	srv, _ := newTestServer()

	cases := map[string]string{
		"bad json":       `{"owner":`,
		"unknown field":  `{"owner":"A","side":"bid","type":"limit","price":1,"quantity":1,"symbol":"X"}`,
		"missing owner":  `{"side":"bid","type":"limit","price":1,"quantity":1}`,
		"zero quantity":  `{"owner":"A","side":"bid","type":"limit","price":1,"quantity":0}`,
		"bad side":       `{"owner":"A","side":"up","type":"limit","price":1,"quantity":1}`,
		"bad type":       `{"owner":"A","side":"bid","type":"iceberg","price":1,"quantity":1}`,
		"limit no price": `{"owner":"A","side":"bid","type":"limit","quantity":1}`,
		"stop no price":  `{"owner":"A","side":"bid","type":"stop","price":-4,"quantity":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			got := doPost(t, srv, body, http.StatusBadRequest)
			assert.NotEmpty(t, got["error"])
		})
	}
}

func TestStopOrder_TriggeredByCancel(t *testing.T) {
	srv, hist := newTestServer()

	doPost(t, srv, `{"owner":"A","side":"ask","type":"limit","price":100,"quantity":5}`, http.StatusCreated)
	doPost(t, srv, `{"owner":"A","side":"ask","type":"limit","price":110,"quantity":5}`, http.StatusCreated)
	got := doPost(t, srv, `{"owner":"C","side":"bid","type":"stop","price":105,"quantity":2}`, http.StatusCreated)
	assert.Equal(t, "PENDING", got["status"])

	// removing the 100 ask lifts the best ask to 110, past the stop price
	rr, got := do(t, srv, http.MethodDelete, "/api/v1/orders/1?owner=A", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	trades := got["trades"].([]interface{})
	require.Len(t, trades, 1)
	trade := trades[0].(map[string]interface{})
	assert.Equal(t, float64(110), trade["price"])
	assert.Equal(t, "stop", trade["buyerKind"])
	assert.Len(t, hist.trades, 1)
}

func TestCancelOrder(t *testing.T) {
	srv, _ := newTestServer()
	doPost(t, srv, `{"owner":"A","side":"bid","type":"limit","price":99,"quantity":5}`, http.StatusCreated)

	rr, _ := do(t, srv, http.MethodDelete, "/api/v1/orders/1?owner=B", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = do(t, srv, http.MethodDelete, "/api/v1/orders/1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = do(t, srv, http.MethodDelete, "/api/v1/orders/abc?owner=A", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, got := do(t, srv, http.MethodDelete, "/api/v1/orders/1?owner=A", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "CANCELLED", got["status"])

	rr, _ = do(t, srv, http.MethodDelete, "/api/v1/orders/1?owner=A", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOrderBook(t *testing.T) {
	srv, _ := newTestServer()
	doPost(t, srv, `{"owner":"A","side":"ask","type":"limit","price":101,"quantity":5}`, http.StatusCreated)
	doPost(t, srv, `{"owner":"B","side":"ask","type":"limit","price":101,"quantity":2}`, http.StatusCreated)
	doPost(t, srv, `{"owner":"A","side":"ask","type":"limit","price":103,"quantity":1}`, http.StatusCreated)
	doPost(t, srv, `{"owner":"C","side":"bid","type":"limit","price":99,"quantity":4}`, http.StatusCreated)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orderbook?depth=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var view engine.BookView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, []engine.AggregatedPriceLevel{{Price: 101, Quantity: 7}}, view.Asks)
	assert.Equal(t, []engine.AggregatedPriceLevel{{Price: 99, Quantity: 4}}, view.Bids)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orderbook?format=text", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "--- ASKS ---"))
	assert.Contains(t, rr.Body.String(), "103")

	rr, _ = do(t, srv, http.MethodGet, "/api/v1/orderbook?depth=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestActiveOrders(t *testing.T) {
	srv, _ := newTestServer()
	doPost(t, srv, `{"owner":"A","side":"ask","type":"limit","price":101,"quantity":5}`, http.StatusCreated)
	doPost(t, srv, `{"owner":"A","side":"bid","type":"stop","price":120,"quantity":1}`, http.StatusCreated)
	doPost(t, srv, `{"owner":"B","side":"bid","type":"limit","price":90,"quantity":1}`, http.StatusCreated)

	rr, got := do(t, srv, http.MethodGet, "/api/v1/users/A/orders", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	orders := got["orders"].([]interface{})
	require.Len(t, orders, 2)
	assert.Equal(t, "limit", orders[0].(map[string]interface{})["kind"])
	assert.Equal(t, "stop", orders[1].(map[string]interface{})["kind"])

	_, got = do(t, srv, http.MethodGet, "/api/v1/users/nobody/orders", nil)
	assert.Empty(t, got["orders"])
}

func TestTrades(t *testing.T) {
	srv, _ := newTestServer()
	doPost(t, srv, `{"owner":"A","side":"ask","type":"limit","price":100,"quantity":3}`, http.StatusCreated)
	doPost(t, srv, `{"owner":"B","side":"bid","type":"limit","price":100,"quantity":1}`, http.StatusOK)
	doPost(t, srv, `{"owner":"C","side":"bid","type":"limit","price":100,"quantity":1}`, http.StatusOK)

	rr, got := do(t, srv, http.MethodGet, "/api/v1/trades?limit=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	trades := got["trades"].([]interface{})
	require.Len(t, trades, 1)
	assert.Equal(t, "C", trades[0].(map[string]interface{})["buyer"])

	noHistory := api.NewServer(engine.NewMatchingEngine(), api.Options{})
	rr, _ = do(t, noHistory, http.MethodGet, "/api/v1/trades", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHistoryFailureDoesNotFailRequest(t *testing.T) {
	hist := &memoryHistory{err: errors.New("disk full")}
	srv := api.NewServer(engine.NewMatchingEngine(), api.Options{History: hist})

	doPost(t, srv, `{"owner":"A","side":"ask","type":"limit","price":100,"quantity":1}`, http.StatusCreated)
	doPost(t, srv, `{"owner":"B","side":"bid","type":"limit","price":100,"quantity":1}`, http.StatusOK)
}

func TestHealthAndCORS(t *testing.T) {
	srv := api.NewServer(engine.NewMatchingEngine(), api.Options{CORSOrigins: []string{"http://localhost:3000"}})
	h := srv.Handler()

	rr, got := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", got["status"])

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateOrder_ConcurrentResponsesMatchTheirTrades(t *testing.T) {
	srv, hist := newTestServer()

	type result struct {
		code int
		body map[string]interface{}
		qty  float64
	}
	const pairs = 200
	results := make(chan result, 2*pairs)

	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rr, got := do(t, srv, http.MethodPost, "/api/v1/orders",
				[]byte(`{"owner":"a","side":"ask","type":"limit","price":100,"quantity":5}`))
			results <- result{rr.Code, got, 5}
		}()
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"owner":"b%d","side":"bid","type":"limit","price":100,"quantity":3}`, i)
			rr, got := do(t, srv, http.MethodPost, "/api/v1/orders", []byte(body))
			results <- result{rr.Code, got, 3}
		}(i)
	}
	wg.Wait()
	close(results)

	var traded float64
	for r := range results {
		id := r.body["order_id"].(float64)
		filled := r.body["filled_quantity"].(float64)
		remaining := r.body["remaining_quantity"].(float64)
		assert.Equal(t, r.qty, filled+remaining)

		var own float64
		for _, tr := range r.body["trades"].([]interface{}) {
			trade := tr.(map[string]interface{})
			if trade["buyOrderId"] == id || trade["sellOrderId"] == id {
				own += trade["size"].(float64)
			}
			traded += trade["size"].(float64)
		}
		assert.Equal(t, filled, own, "order %v", id)

		switch {
		case remaining == 0:
			assert.Equal(t, http.StatusOK, r.code)
			assert.Equal(t, "FILLED", r.body["status"])
		case filled > 0:
			assert.Equal(t, http.StatusAccepted, r.code)
			assert.Equal(t, "PARTIAL_FILL", r.body["status"])
		default:
			assert.Equal(t, http.StatusCreated, r.code)
			assert.Equal(t, "ACCEPTED", r.body["status"])
		}
	}

	var recorded float64
	for _, tr := range hist.trades {
		recorded += float64(tr.Size)
	}
	assert.Equal(t, traded, recorded)
	assert.Equal(t, float64(3*pairs), recorded, "every bid fills against the larger ask supply")
}
