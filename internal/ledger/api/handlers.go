package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"recoveryops/internal/common/api"
	"recoveryops/internal/common/database"
	"recoveryops/internal/common/middleware"
	"recoveryops/internal/common/money"
	"recoveryops/internal/ledger"
	"recoveryops/internal/ledger/domain"
)

// Handler handles ledger HTTP requests
type Handler struct {
	service *ledger.Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *ledger.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the ledger routes. The tenant is the organization.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireTenant)

	r.Get("/accounts", h.ListAccounts)
	r.Get("/accounts/{code}/balance", h.GetAccountBalance)
	r.Get("/transactions/{id}", h.GetTransaction)

	return r
}

// ListAccounts handles GET /accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetTenantID(r.Context())

	balances, err := h.service.GetBalances(r.Context(), orgID)
	if err != nil {
		api.InternalError(w, "failed to list accounts")
		return
	}

	api.WriteData(w, http.StatusOK, balances)
}

// GetAccountBalance handles GET /accounts/{code}/balance?currency=USD
func (h *Handler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetTenantID(r.Context())
	code := domain.AccountCode(chi.URLParam(r, "code"))

	currency := money.USD
	if c := r.URL.Query().Get("currency"); c != "" {
		currency = money.ParseCurrency(c)
	}

	balance, err := h.service.GetAccountBalance(r.Context(), orgID, code, currency)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownAccountCode):
			api.BadRequest(w, "unknown account code")
		case database.IsNotFound(err):
			api.NotFound(w, "account not found")
		default:
			api.InternalError(w, "failed to get balance")
		}
		return
	}

	api.WriteData(w, http.StatusOK, balance)
}

// GetTransaction handles GET /transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetTenantID(r.Context())

	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "transaction ID required")
		return
	}

	txn, err := h.service.GetTransaction(r.Context(), orgID, id)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "transaction not found")
			return
		}
		api.InternalError(w, "failed to get transaction")
		return
	}

	api.WriteData(w, http.StatusOK, txn)
}
