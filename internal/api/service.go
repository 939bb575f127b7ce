// Package api provides the HTTP surface of the trade engine: asset and
// portfolio queries, order placement and cancellation, and the WebSocket
// stream. It is a thin presentation layer — every ledger mutation goes
// through the account session's serialization boundary.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papersim/trade-engine/internal/auth"
	"github.com/papersim/trade-engine/internal/ledger"
	"github.com/papersim/trade-engine/internal/model"
	"github.com/papersim/trade-engine/internal/price"
	"github.com/papersim/trade-engine/internal/session"
)

// Service handles HTTP requests against the simulation.
type Service struct {
	engine   *price.Engine
	sessions *session.Manager
	auth     auth.Authenticator
}

// NewService creates the HTTP service.
func NewService(engine *price.Engine, sessions *session.Manager, authn auth.Authenticator) *Service {
	return &Service{
		engine:   engine,
		sessions: sessions,
		auth:     authn,
	}
}

// Routes registers all API routes on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{assetID}", s.GetAsset)
	r.Get("/assets/{assetID}/history", s.GetAssetHistory)
	r.Get("/portfolio", s.GetPortfolio)
	r.Get("/transactions", s.ListTransactions)
	r.Get("/orders", s.ListOrders)
	r.Post("/orders", s.PlaceOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)
}

// session resolves the request's account session, falling back to guest mode
// for anonymous requests.
func (s *Service) session(r *http.Request) *session.Session {
	accountID, ok := s.auth.Authenticate(r)
	if !ok {
		accountID = ""
	}
	return s.sessions.Get(r.Context(), accountID)
}

// --- Request/Response types ---

// PlaceOrderRequest is the JSON body for POST /api/v1/orders.
type PlaceOrderRequest struct {
	AssetID     string          `json:"asset_id"`
	Side        model.Side      `json:"side"`                   // "BUY" or "SELL"
	Kind        model.OrderKind `json:"kind"`                   // "MARKET" or "LIMIT"
	Quantity    int64           `json:"quantity"`               // units, positive
	TargetPrice decimal.Decimal `json:"target_price,omitempty"` // LIMIT only
}

// PlaceOrderResponse is returned from POST /api/v1/orders. Transaction is
// set for settled market orders, Order for resting limit orders.
type PlaceOrderResponse struct {
	Kind        model.OrderKind    `json:"kind"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Order       *model.LimitOrder  `json:"order,omitempty"`
	CashBalance decimal.Decimal    `json:"cash_balance"`
}

// HoldingView is one holding valued at the current price.
type HoldingView struct {
	AssetID       string          `json:"asset_id"`
	Quantity      int64           `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Price         decimal.Decimal `json:"price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioResponse is returned from GET /api/v1/portfolio.
type PortfolioResponse struct {
	AccountID    string             `json:"account_id"`
	Guest        bool               `json:"guest"`
	CashBalance  decimal.Decimal    `json:"cash_balance"`
	EscrowedCash decimal.Decimal    `json:"escrowed_cash"`
	Holdings     []HoldingView      `json:"holdings"`
	OpenOrders   []model.LimitOrder `json:"open_orders"`
	NetWorth     decimal.Decimal    `json:"net_worth"`
}

// --- HTTP Handlers ---

// ListAssets handles GET /api/v1/assets. History is omitted; use the history
// endpoint for chart data.
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.engine.Snapshot()
	for i := range assets {
		assets[i].History = nil
	}
	writeJSON(w, http.StatusOK, assets)
}

// GetAsset handles GET /api/v1/assets/{assetID}.
func (s *Service) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.engine.Asset(chi.URLParam(r, "assetID"))
	if !ok {
		writeError(w, "asset not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// GetAssetHistory handles GET /api/v1/assets/{assetID}/history.
func (s *Service) GetAssetHistory(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.engine.Asset(chi.URLParam(r, "assetID"))
	if !ok {
		writeError(w, "asset not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, asset.History)
}

// GetPortfolio handles GET /api/v1/portfolio. Holdings are valued against
// the current price snapshot.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	l := sess.Ledger()
	prices := s.engine.Prices()

	holdings := make([]HoldingView, 0, len(l.Holdings))
	for id, h := range l.Holdings {
		hv := HoldingView{
			AssetID:  id,
			Quantity: h.Quantity,
			AvgCost:  h.AvgCost,
		}
		if p, ok := prices[id]; ok {
			qty := decimal.NewFromInt(h.Quantity)
			hv.Price = p
			hv.MarketValue = p.Mul(qty)
			hv.UnrealizedPnL = p.Sub(h.AvgCost).Mul(qty)
		}
		holdings = append(holdings, hv)
	}

	writeJSON(w, http.StatusOK, PortfolioResponse{
		AccountID:    sess.AccountID(),
		Guest:        sess.Guest(),
		CashBalance:  l.CashBalance,
		EscrowedCash: l.EscrowedCash(),
		Holdings:     holdings,
		OpenOrders:   l.OpenOrders,
		NetWorth:     ledger.NetWorth(l, prices),
	})
}

// ListTransactions handles GET /api/v1/transactions.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session(r).Ledger().Transactions)
}

// ListOrders handles GET /api/v1/orders.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session(r).Ledger().OpenOrders)
}

// PlaceOrder handles POST /api/v1/orders. MARKET orders settle immediately
// at the current price; LIMIT orders rest with their escrow reserved.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}

	sess := s.session(r)

	switch req.Kind {
	case model.KindMarket:
		tx, err := sess.MarketOrder(r.Context(), req.AssetID, req.Side, req.Quantity)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PlaceOrderResponse{
			Kind:        model.KindMarket,
			Transaction: &tx,
			CashBalance: sess.Ledger().CashBalance,
		})

	case model.KindLimit:
		order, err := sess.LimitOrder(r.Context(), req.AssetID, req.Side, req.Quantity, req.TargetPrice)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, PlaceOrderResponse{
			Kind:        model.KindLimit,
			Order:       &order,
			CashBalance: sess.Ledger().CashBalance,
		})

	default:
		writeError(w, "kind must be MARKET or LIMIT", http.StatusBadRequest)
	}
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	order, err := sess.CancelOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled":    order,
		"cash_balance": sess.Ledger().CashBalance,
	})
}

// --- Helpers ---

// writeLedgerError maps ledger sentinels to HTTP statuses. Validation
// failures reject the request; the ledger is guaranteed untouched.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidPrice), errors.Is(err, ledger.ErrInvalidSide):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientHoldings):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrOrderNotFound), errors.Is(err, ledger.ErrAssetNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
