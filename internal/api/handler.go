package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/metrics"
	"pharmaledger/m/internal/service"
)

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"

	dateLayout = "2006-01-02"
	tokenTTL   = 24 * time.Hour
)

// Services are the commands and queries the API exposes.
type Services struct {
	Users     *service.Users
	Catalog   *service.Catalog
	Inventory *service.Inventory
	Sales     *service.Sales
	Invoices  *service.Invoices
	Reports   *service.Reports
}

// Options tune the router.
type Options struct {
	Secret         string
	AllowedOrigins []string
	MetricsEnabled bool
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	svc  Services
	opts Options
}

// New constructs a Handler.
func New(svc Services, opts Options) *Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Handler{svc: svc, opts: opts}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	if h.opts.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}
	r.Post("/auth/login", h.login)

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Post("/users", h.createUser)

		pr.Route("/categories", func(r chi.Router) {
			r.Get("/", h.listCategories)
			r.Post("/", h.createCategory)
		})
		pr.Route("/dosage-forms", func(r chi.Router) {
			r.Get("/", h.listDosageForms)
			r.Post("/", h.createDosageForm)
		})
		pr.Route("/suppliers", func(r chi.Router) {
			r.Get("/", h.listSuppliers)
			r.Post("/", h.createSupplier)
		})
		pr.Route("/products", func(r chi.Router) {
			r.Get("/", h.searchProducts)
			r.Post("/", h.createProduct)
			r.Get("/{id}", h.getProduct)
			r.Put("/{id}", h.updateProduct)
			r.Delete("/{id}", h.deleteProduct)
			r.Get("/{id}/stock", h.productStock)
		})
		pr.Post("/allocations/validate", h.validateAllocation)

		pr.Route("/purchase-orders", func(r chi.Router) {
			r.Get("/", h.listPurchaseOrders)
			r.Post("/", h.createPurchaseOrder)
			r.Get("/{id}", h.getPurchaseOrder)
			r.Post("/{id}/receive", h.receivePurchaseOrder)
			r.Post("/{id}/cancel", h.cancelPurchaseOrder)
		})
		pr.Route("/lots", func(r chi.Router) {
			r.Get("/expiring", h.expiringLots)
			r.Get("/{id}/movements", h.lotMovements)
			r.Post("/{id}/movements", h.createLotMovement)
			r.Post("/{id}/count", h.countLot)
			r.Post("/{id}/write-off", h.writeOffLot)
			r.Put("/{id}/active", h.setLotActive)
		})

		pr.Route("/customers", func(r chi.Router) {
			r.Get("/", h.listCustomers)
			r.Post("/", h.createCustomer)
			r.Get("/{id}", h.getCustomer)
			r.Put("/{id}", h.updateCustomer)
			r.Get("/{id}/credit", h.customerCredit)
		})

		pr.Route("/sales", func(r chi.Router) {
			r.Get("/", h.listSales)
			r.Post("/", h.createSale)
			r.Get("/{id}", h.getSale)
			r.Put("/{id}", h.updateSale)
			r.Delete("/{id}", h.deleteSale)
			r.Post("/{id}/items", h.addSaleItem)
			r.Put("/{id}/items/{itemID}", h.changeSaleItem)
			r.Delete("/{id}/items/{itemID}", h.removeSaleItem)
			r.Post("/{id}/payments", h.recordPayment)
			r.Delete("/{id}/payments/{paymentID}", h.deletePayment)
			r.Put("/{id}/discount", h.setDiscount)
			r.Put("/{id}/tax", h.setTax)
			r.Put("/{id}/customer", h.changeCustomer)
			r.Get("/{id}/invoices", h.listInvoices)
			r.Post("/{id}/invoices", h.generateInvoice)
		})

		pr.Route("/reports", func(r chi.Router) {
			r.Get("/sales/daily", h.dailySales)
			r.Get("/sales/monthly", h.monthlySales)
			r.Get("/sales", h.salesReport)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Authentication helpers

type authClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(userID int64, role domain.Role) (string, error) {
	now := time.Now()
	claims := authClaims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.opts.Secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.opts.Secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok || claims.UserID <= 0 {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxRole, domain.Role(claims.Role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...domain.Role) bool {
	current, ok := r.Context().Value(ctxRole).(domain.Role)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing role")
		return false
	}
	for _, allowedRole := range allowed {
		if current == allowedRole {
			return true
		}
	}
	respondError(w, http.StatusForbidden, "insufficient permissions")
	return false
}

// stockManagers may receive goods, correct lots and edit the catalog.
var stockManagers = []domain.Role{domain.RoleAdmin, domain.RolePharmacist}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxUserID).(int64)
	return id
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.svc.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	token, err := h.generateToken(user.ID, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

type createUserRequest struct {
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.svc.Users.Create(r.Context(), req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// Helpers

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ledger.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// parseDate reads an optional YYYY-MM-DD value; empty yields nil.
func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, ledger.Invalid(field, "must be in YYYY-MM-DD format")
	}
	return &t, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ledger.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
