package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xtrntr/spot/internal/auth"
	"github.com/xtrntr/spot/internal/db"
	"github.com/xtrntr/spot/internal/exchange"
	"github.com/xtrntr/spot/internal/fees"
	"github.com/xtrntr/spot/internal/models"
	"github.com/xtrntr/spot/internal/money"
	"github.com/xtrntr/spot/internal/notify"
)

type ctxKey int

const accountIDKey ctxKey = 0

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Orders      *exchange.OrderService
	Dispatcher  *exchange.Dispatcher
	AuthService *auth.AuthService
	Hub         *notify.Hub
	Log         *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, orders *exchange.OrderService, dispatcher *exchange.Dispatcher, authService *auth.AuthService, hub *notify.Hub, log *zap.Logger) *Handler {
	return &Handler{
		DB:          database,
		Orders:      orders,
		Dispatcher:  dispatcher,
		AuthService: authService,
		Hub:         hub,
		Log:         log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the exchange error taxonomy onto HTTP statuses:
// validation failures are the caller's to fix, integrity failures are ours.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *exchange.ValidationError
	if errors.As(err, &vErr) {
		writeError(w, http.StatusUnprocessableEntity, vErr.Error())
		return
	}
	var iErr *exchange.IntegrityError
	if errors.As(err, &iErr) {
		h.Log.Error("ledger integrity failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.Log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// Register handles account registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	acct, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register account")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       acct.ID,
		"username": acct.Username,
	})
}

// Login handles login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			// Browsers cannot set headers on websocket dials; allow the
			// token as a query parameter there.
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		accountID, err := h.AuthService.GetAccountFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(accountIDKey).(int64)
	return id, ok
}

// GetProfile returns the account's balances and wallets
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	acct, err := h.DB.GetAccount(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	assets, err := h.DB.ListAssets(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if assets == nil {
		assets = []models.Asset{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          acct.ID,
		"username":    acct.Username,
		"balance_usd": acct.BalanceUSD,
		"assets":      assets,
	})
}

// GetOrderBook returns the OPEN orders for a symbol, both sides ranked by
// the matcher's priority key.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol, err := models.ParseSymbol(r.URL.Query().Get("symbol"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	buyOrders, err := h.DB.ListOpenOrders(r.Context(), symbol, models.SideBuy)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	sellOrders, err := h.DB.ListOpenOrders(r.Context(), symbol, models.SideSell)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if buyOrders == nil {
		buyOrders = []models.Order{}
	}
	if sellOrders == nil {
		sellOrders = []models.Order{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"buy":    buyOrders,
		"sell":   sellOrders,
	})
}

// PreviewOrder returns the volume, fee and total a prospective order would
// reserve. Only the buy side pays a fee.
func (h *Handler) PreviewOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Price    string `json:"price"`
		Quantity string `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := models.ParseSymbol(req.Symbol); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	price, err := money.Parse(req.Price, money.USDScale)
	if err != nil || price.Sign() <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "price must be a positive numeric string")
		return
	}
	quantity, err := money.Parse(req.Quantity, money.AssetScale)
	if err != nil || quantity.Sign() <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "quantity must be a positive numeric string")
		return
	}

	volume := fees.Volume(price, quantity, money.USDScale)
	fee := money.Zero(money.USDScale)
	total := volume
	if side == models.SideBuy {
		fee = fees.Fee(volume, money.USDScale)
		total = fees.Total(price, quantity, money.USDScale)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"volume":   volume,
		"fee":      fee,
		"total":    total,
		"fee_rate": fees.Rate(),
	})
}

// PlaceOrder creates an order and schedules a match attempt for it
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Price    string `json:"price"`
		Quantity string `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.Orders.CreateOrder(r.Context(), id, exchange.CreateOrderInput{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.Dispatcher.Enqueue(order.ID)

	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.Orders.CancelOrder(r.Context(), id, orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// GetMyOrders returns the account's orders, optionally filtered
func (h *Handler) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var f db.OrderFilter
	q := r.URL.Query()
	if s := q.Get("symbol"); s != "" {
		symbol, err := models.ParseSymbol(s)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		f.Symbol = symbol
	}
	if s := q.Get("side"); s != "" {
		side, err := models.ParseSide(s)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		f.Side = side
	}
	if s := q.Get("status"); s != "" {
		status, err := models.ParseStatus(s)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		f.Status = status
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 || limit > 100 {
			writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 100")
			return
		}
		f.Limit = limit
	}

	orders, err := h.DB.ListAccountOrders(r.Context(), id, f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetMyTrades returns the trades the account participated in
func (h *Handler) GetMyTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	trades, err := h.DB.ListAccountTrades(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ServeWS attaches the authenticated account to the settlement hub
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.Hub.ServeWS(w, r, id)
}
