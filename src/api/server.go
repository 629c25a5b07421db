package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"cross-matching-engine/src/engine"
)

const (
	defaultTradesLimit = 50
	maxTradesLimit     = 1000
)

// TradeHistory stores the trades produced by every mutating request.
type TradeHistory interface {
	Append(trades []engine.Trade) error
	Recent(limit int) ([]engine.Trade, error)
}

type Options struct {
	// History may be nil, in which case trades are not kept and
	// GET /api/v1/trades answers 503.
	History     TradeHistory
	Logger      *zap.Logger
	BookDepth   int
	CORSOrigins []string
}

type Server struct {
	eng    *engine.MatchingEngine
	router *mux.Router
	opts   Options
	log    *zap.Logger
}

func NewServer(eng *engine.MatchingEngine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BookDepth <= 0 {
		opts.BookDepth = engine.DefaultBookDepth
	}
	s := &Server{
		eng:    eng,
		router: mux.NewRouter(),
		opts:   opts,
		log:    opts.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/orderbook", s.handleOrderBook).Methods(http.MethodGet)
	api.HandleFunc("/users/{owner}/orders", s.handleActiveOrders).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
	}).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// ServeHTTP allows Server to satisfy http.Handler, delegating to its router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type createOrderRequest struct {
	Owner    string `json:"owner"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid json")
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		writeError(w, http.StatusBadRequest, "Invalid order: owner is required")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid order: quantity must be positive")
		return
	}
	kind, err := parseOrderKind(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order: "+err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order: "+err.Error())
		return
	}
	if kind != engine.Market && req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid order: price must be > 0 for "+string(kind)+" orders")
		return
	}

	var order *engine.Order
	switch kind {
	case engine.Market:
		order = engine.NewMarketOrder(req.Owner, side, req.Quantity)
	case engine.Stop:
		order = engine.NewStopOrder(req.Owner, side, req.Quantity, req.Price)
	default:
		order = engine.NewLimitOrder(req.Owner, side, req.Quantity, req.Price)
	}

	resp, err := s.eng.SubmitOrder(order)
	if err != nil {
		var liq *engine.InsufficientLiquidityError
		if errors.As(err, &liq) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":     err.Error(),
				"requested": liq.Requested,
				"available": liq.Available,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.recordTrades(resp.Trades)

	// order belongs to the engine from here on; only resp is read
	trades := resp.Trades
	if trades == nil {
		trades = []engine.Trade{}
	}
	body := map[string]interface{}{
		"order_id":           resp.OrderID,
		"status":             orderStatus(kind, resp),
		"filled_quantity":    resp.FilledQuantity,
		"remaining_quantity": resp.RemainingQuantity,
		"order_in_book":      resp.OrderInBook,
		"trades":             trades,
	}

	status := http.StatusOK
	switch {
	case kind == engine.Stop:
		status = http.StatusCreated
	case resp.OrderInBook && resp.FilledQuantity == 0:
		status = http.StatusCreated
	case resp.OrderInBook:
		status = http.StatusAccepted
	}
	writeJSON(w, status, body)
}

func orderStatus(kind engine.OrderKind, resp engine.ProcessOrderResponse) string {
	switch {
	case kind == engine.Stop:
		return "PENDING"
	case resp.RemainingQuantity == 0:
		return "FILLED"
	case resp.OrderInBook && resp.FilledQuantity > 0:
		return "PARTIAL_FILL"
	case resp.OrderInBook:
		return "ACCEPTED"
	default:
		// limit order whose remainder was dropped by self-trade prevention
		return "CLOSED"
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	found, trades := s.eng.CancelOrder(id, owner)
	if !found {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	s.recordTrades(trades)
	if trades == nil {
		trades = []engine.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": id,
		"status":   "CANCELLED",
		"trades":   trades,
	})
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	depth, ok := parsePositiveInt(r, "depth", s.opts.BookDepth)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid depth")
		return
	}
	view := s.eng.GetOrderBookSnapshot(depth)

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(view.Render()))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":  owner,
		"orders": s.eng.GetActiveOrders(owner),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history is disabled")
		return
	}
	limit, ok := parsePositiveInt(r, "limit", defaultTradesLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxTradesLimit)

	trades, err := s.opts.History.Recent(limit)
	if err != nil {
		s.log.Error("failed to read trade history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read trade history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// recordTrades appends trades to the history. The engine state has already
// changed, so a storage failure is logged rather than returned.
func (s *Server) recordTrades(trades []engine.Trade) {
	if len(trades) == 0 || s.opts.History == nil {
		return
	}
	if err := s.opts.History.Append(trades); err != nil {
		s.log.Error("failed to record trades", zap.Int("count", len(trades)), zap.Error(err))
	}
}

func parsePositiveInt(r *http.Request, name string, def int) (int, bool) {
	param := r.URL.Query().Get(name)
	if param == "" {
		return def, true
	}
	v, err := strconv.Atoi(param)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func parseSide(s string) (engine.Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(engine.Bid), "buy":
		return engine.Bid, nil
	case string(engine.Ask), "sell":
		return engine.Ask, nil
	default:
		return "", errors.New("invalid side; must be bid or ask")
	}
}

func parseOrderKind(s string) (engine.OrderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(engine.Limit):
		return engine.Limit, nil
	case string(engine.Market):
		return engine.Market, nil
	case string(engine.Stop):
		return engine.Stop, nil
	default:
		return "", errors.New("invalid type; must be limit, market or stop")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
