package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/book"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
	"github.com/uhyunpark/hyperclob/pkg/market"
	"github.com/uhyunpark/hyperclob/pkg/storage"
)

const (
	defaultFillLimit = 50
	maxFillLimit     = 1000
)

// Journal is the read side of the fill journal.
type Journal interface {
	RecentFills(market common.Address, limit int) ([]storage.FillRecord, error)
	LoadOrder(market common.Address, orderID string) (storage.OrderRecord, error)
}

// Server is the REST and websocket surface over a market registry.
type Server struct {
	registry *market.Registry
	journal  Journal
	hub      *Hub
	router   *mux.Router
	log      *zap.SugaredLogger

	endpoint string              // default settlement endpoint
	verifier *crypto.TypedHasher // nil: signatures are not checked
	origins  []string

	httpSrv *http.Server

	depthMu  sync.Mutex
	depthSeq map[common.Address]uint64 // last depth update sent per market
}

type Option func(*Server)

func WithJournal(j Journal) Option { return func(s *Server) { s.journal = j } }

func WithLogger(l *zap.SugaredLogger) Option { return func(s *Server) { s.log = l } }

// WithSettlementEndpoint sets the endpoint used when a request names none.
func WithSettlementEndpoint(ep string) Option { return func(s *Server) { s.endpoint = ep } }

// WithOrderVerification requires every order to carry a trader signature
// over its EIP-712 order intent.
func WithOrderVerification(h *crypto.TypedHasher) Option {
	return func(s *Server) { s.verifier = h }
}

func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

func NewServer(registry *market.Registry, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		router:   mux.NewRouter(),
		log:      zap.NewNop().Sugar(),
		origins:  []string{"http://localhost:3000", "http://localhost:3001"},
		depthSeq: make(map[common.Address]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.log)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{market}/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/markets/{market}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/markets/{market}/fills", s.handleGetFills).Methods("GET")
	api.HandleFunc("/markets/{market}/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Serve runs the hub and the HTTP listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()
	s.log.Infow("api_listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// OnCommit pushes a committed outcome to websocket subscribers. Register it
// as a book observer.
//
// Observers run outside the book lock, so outcomes can arrive out of commit
// order. Fill events are always forwarded and carry their seq; a depth
// update older than one already sent for the market is dropped, so the
// last depth a client sees is the latest.
func (s *Server) OnCommit(out book.Outcome) {
	m := out.Market.Hex()
	ts := out.CommittedAt.UnixMilli()

	if len(out.Fills) > 0 {
		s.hub.BroadcastToChannel("fills:"+m, FillsUpdate{
			Type:      "fills",
			Market:    m,
			OrderID:   out.Order.ID().String(),
			Side:      out.Order.Side().String(),
			Fills:     fillInfos(out.Fills, ts),
			Seq:       out.Seq,
			Timestamp: ts,
		})
	}

	s.depthMu.Lock()
	defer s.depthMu.Unlock()
	if out.Seq <= s.depthSeq[out.Market] {
		return
	}
	s.depthSeq[out.Market] = out.Seq
	s.hub.BroadcastToChannel("depth:"+m, DepthUpdate{
		Type:      "depth",
		Market:    m,
		Bids:      out.Bids,
		Asks:      out.Asks,
		Seq:       out.Seq,
		Timestamp: ts,
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	books := s.registry.Books()
	resp := make([]MarketInfo, 0, len(books))
	for _, b := range books {
		info := MarketInfo{Market: b.Market().Hex()}
		info.Bids, info.Asks = b.Depth()
		if o, ok := b.BestBid(); ok {
			info.BestBid = o.Price().Dec()
		}
		if o, ok := b.BestAsk(); ok {
			info.BestAsk = o.Price().Dec()
		}
		resp = append(resp, info)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bookFromPath(w, r)
	if !ok {
		return
	}
	resp := DepthResponse{Market: b.Market().Hex()}
	resp.Bids, resp.Asks = b.Depth()
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bookFromPath(w, r)
	if !ok {
		return
	}
	n, err := intQuery(r, "levels", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid levels", err.Error())
		return
	}
	bids, asks := b.Levels(n)
	respondJSON(w, http.StatusOK, BookSnapshot{
		Market:    b.Market().Hex(),
		Bids:      priceLevels(bids),
		Asks:      priceLevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bookFromPath(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r, "limit", defaultFillLimit)
	if err != nil || limit <= 0 {
		respondError(w, http.StatusBadRequest, "invalid limit", "")
		return
	}
	if limit > maxFillLimit {
		limit = maxFillLimit
	}
	if s.journal == nil {
		respondJSON(w, http.StatusOK, []FillInfo{})
		return
	}

	recs, err := s.journal.RecentFills(b.Market(), limit)
	if err != nil {
		s.log.Warnw("fills_query_failed", "market", b.Market().Hex(), "err", err)
		respondError(w, http.StatusInternalServerError, "failed to load fills", "")
		return
	}
	resp := make([]FillInfo, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, FillInfo{
			MakerOrder: rec.MakerOrder,
			Maker:      rec.Maker.Hex(),
			Price:      rec.Price,
			Quantity:   rec.Quantity,
			Timestamp:  rec.Time.UnixMilli(),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bookFromPath(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	if o, ok := b.Order(id); ok {
		info := OrderInfo{
			ID:        o.ID().String(),
			Market:    o.Market().Hex(),
			Trader:    o.Trader().Hex(),
			Side:      o.Side().String(),
			Price:     o.Price().Dec(),
			Quantity:  o.Quantity().Dec(),
			Remaining: o.Quantity().Dec(),
			Status:    "resting",
			Timestamp: o.Timestamp().UnixMilli(),
		}
		if s.journal != nil {
			if rec, err := s.journal.LoadOrder(b.Market(), id.String()); err == nil {
				info.Quantity = rec.Quantity
			}
		}
		respondJSON(w, http.StatusOK, info)
		return
	}

	if s.journal != nil {
		rec, err := s.journal.LoadOrder(b.Market(), id.String())
		if err == nil {
			// Not on the book: the journal holds its last known state.
			ts := rec.Placed
			if ts.IsZero() {
				ts = rec.Time
			}
			respondJSON(w, http.StatusOK, OrderInfo{
				ID:        rec.ID,
				Market:    rec.Market.Hex(),
				Trader:    rec.Trader.Hex(),
				Side:      rec.Side,
				Price:     rec.Price,
				Quantity:  rec.Quantity,
				Remaining: rec.Remaining,
				Status:    rec.Status,
				Timestamp: ts.UnixMilli(),
			})
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warnw("order_query_failed", "order", id.String(), "err", err)
			respondError(w, http.StatusInternalServerError, "failed to load order", "")
			return
		}
	}
	respondError(w, http.StatusNotFound, "order not found", "")
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	o, status, err := s.parseOrder(req)
	if err != nil {
		respondError(w, status, "invalid order", err.Error())
		return
	}

	b, err := s.registry.Get(o.Market())
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = s.endpoint
	}

	out, err := b.Submit(r.Context(), o, endpoint)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, submitResponse(out, ""))
	case book.IsSettlement(err):
		// The match stands; only the notification failed.
		respondJSON(w, http.StatusAccepted, submitResponse(out, err.Error()))
	case book.IsValidation(err):
		respondError(w, http.StatusBadRequest, "order rejected", err.Error())
	default:
		s.log.Warnw("submit_failed", "order", o.ID().String(), "err", err)
		respondError(w, http.StatusInternalServerError, "submit failed", err.Error())
	}
}

// parseOrder builds a book order from the request and checks its signature
// when verification is on. The HTTP status is meaningful only on error.
func (s *Server) parseOrder(req SubmitOrderRequest) (book.Order, int, error) {
	if !common.IsHexAddress(req.Market) {
		return book.Order{}, http.StatusBadRequest, errors.Newf("invalid market %q", req.Market)
	}
	if !common.IsHexAddress(req.Trader) {
		return book.Order{}, http.StatusBadRequest, errors.Newf("invalid trader %q", req.Trader)
	}
	side, err := book.ParseSide(req.Side)
	if err != nil {
		return book.Order{}, http.StatusBadRequest, err
	}
	price, err := uint256.FromDecimal(req.Price)
	if err != nil {
		return book.Order{}, http.StatusBadRequest, errors.Wrap(err, "price")
	}
	qty, err := uint256.FromDecimal(req.Quantity)
	if err != nil {
		return book.Order{}, http.StatusBadRequest, errors.Wrap(err, "quantity")
	}

	var sig []byte
	if req.Signature != "" {
		if sig, err = hexutil.Decode(req.Signature); err != nil {
			return book.Order{}, http.StatusBadRequest, errors.Wrap(err, "signature")
		}
	}

	mkt, trader := common.HexToAddress(req.Market), common.HexToAddress(req.Trader)
	if s.verifier != nil {
		if len(sig) == 0 {
			return book.Order{}, http.StatusUnauthorized, errors.New("signature required")
		}
		nonce, ok := new(big.Int).SetString(orDefault(req.Nonce, "0"), 10)
		if !ok {
			return book.Order{}, http.StatusBadRequest, errors.Newf("invalid nonce %q", req.Nonce)
		}
		signer, err := s.verifier.RecoverOrderSigner(&crypto.OrderIntent{
			Market:   mkt,
			Side:     uint8(side),
			Price:    price.ToBig(),
			Quantity: qty.ToBig(),
			Nonce:    nonce,
			Trader:   trader,
		}, sig)
		if err != nil || signer != trader {
			return book.Order{}, http.StatusUnauthorized, errors.New("signature does not match trader")
		}
	}

	return book.NewOrder(trader, mkt, side, price, qty, time.Now(), sig), 0, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "markets": s.registry.Count()})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) bookFromPath(w http.ResponseWriter, r *http.Request) (*book.Book, bool) {
	raw := mux.Vars(r)["market"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid market address", "")
		return nil, false
	}
	b, err := s.registry.Get(common.HexToAddress(raw))
	if errors.Is(err, market.ErrMarketNotFound) {
		respondError(w, http.StatusNotFound, "market not found", "")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "market lookup failed", err.Error())
		return nil, false
	}
	return b, true
}

func submitResponse(out book.Outcome, settlementErr string) SubmitOrderResponse {
	return SubmitOrderResponse{
		OrderID:         out.Order.ID().String(),
		Status:          out.Status(),
		Filled:          out.Filled().Dec(),
		Remaining:       out.Remaining.Dec(),
		Fills:           fillInfos(out.Fills, 0),
		Seq:             out.Seq,
		Bids:            out.Bids,
		Asks:            out.Asks,
		SettlementError: settlementErr,
	}
}

func fillInfos(fills []book.Fill, ts int64) []FillInfo {
	out := make([]FillInfo, 0, len(fills))
	for _, f := range fills {
		out = append(out, FillInfo{
			MakerOrder: f.Maker.ID().String(),
			Maker:      f.Maker.Trader().Hex(),
			Price:      f.Price.Dec(),
			Quantity:   f.Quantity.Dec(),
			Timestamp:  ts,
		})
	}
	return out
}

func priceLevels(levels []book.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, lv := range levels {
		out = append(out, PriceLevel{Price: lv.Price.Dec(), Quantity: lv.Quantity.Dec(), Orders: lv.Orders})
	}
	return out
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	respondJSON(w, status, ErrorResponse{Error: msg, Message: detail})
}
