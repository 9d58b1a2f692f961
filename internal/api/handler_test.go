package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/database"
	"pharmaledger/m/internal/invoice"
	"pharmaledger/m/internal/migrations"
	"pharmaledger/m/internal/service"
	"pharmaledger/m/pkg/logger"
)

const testSecret = "test_secret"

type apiEnv struct {
	t      *testing.T
	h      *Handler
	router http.Handler
	tokens map[domain.Role]string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	logger.Silence()

	db, err := database.Connect(database.DriverSQLite, database.MemoryDSN, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.Run(db.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	core := service.NewCore(db, service.WithClock(func() time.Time { return now }))
	svc := Services{
		Users:     service.NewUsers(core),
		Catalog:   service.NewCatalog(core),
		Inventory: service.NewInventory(core),
		Sales:     service.NewSales(core),
		Invoices:  service.NewInvoices(core, invoice.XLSXRenderer{}, t.TempDir()),
		Reports:   service.NewReports(core),
	}
	h := New(svc, Options{Secret: testSecret, MetricsEnabled: true})
	env := &apiEnv{t: t, h: h, router: h.Router(), tokens: map[domain.Role]string{}}

	for _, role := range []domain.Role{domain.RoleAdmin, domain.RolePharmacist, domain.RoleCashier} {
		u, err := svc.Users.Create(context.Background(), string(role), string(role)+"@example.com", "secret", role)
		if err != nil {
			t.Fatalf("create %s: %v", role, err)
		}
		token, err := h.generateToken(u.ID, u.Role)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		env.tokens[role] = token
	}
	return env
}

// do sends body as JSON with role's token (no token when role is empty)
// and decodes the response into out when out is non-nil.
func (e *apiEnv) do(role domain.Role, method, path string, body interface{}, out interface{}) int {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			e.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func (e *apiEnv) mustDo(role domain.Role, method, path string, body interface{}, want int, out interface{}) {
	e.t.Helper()
	var raw json.RawMessage
	code := e.do(role, method, path, body, &raw)
	if code != want {
		e.t.Fatalf("%s %s = %d, want %d: %s", method, path, code, want, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			e.t.Fatalf("decode: %v", err)
		}
	}
}

// stock creates a product and receives one lot of it, returning both ids.
func (e *apiEnv) stock(name string, qty int64, expires, price string) (productID, lotID int64) {
	e.t.Helper()
	var sup domain.Supplier
	e.mustDo(domain.RolePharmacist, http.MethodPost, "/suppliers", map[string]string{"name": name + " supplier"}, http.StatusCreated, &sup)
	var p domain.Product
	e.mustDo(domain.RolePharmacist, http.MethodPost, "/products", map[string]interface{}{"name": name}, http.StatusCreated, &p)
	var po domain.PurchaseOrder
	e.mustDo(domain.RolePharmacist, http.MethodPost, "/purchase-orders", map[string]interface{}{"supplier_id": sup.ID}, http.StatusCreated, &po)
	e.mustDo(domain.RolePharmacist, http.MethodPost, "/purchase-orders/"+itoa(po.ID)+"/receive", map[string]interface{}{
		"lots": []map[string]interface{}{{
			"product_id":      p.ID,
			"batch_number":    name + "-1",
			"quantity":        qty,
			"expiration_date": expires,
			"purchase_price":  "1.00",
			"sale_price":      price,
		}},
	}, http.StatusOK, &po)
	if len(po.Lots) != 1 {
		e.t.Fatalf("received lots = %d, want 1", len(po.Lots))
	}
	return p.ID, po.Lots[0].ID
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestHealthAndAuth(t *testing.T) {
	env := newAPIEnv(t)

	if code := env.do("", http.MethodGet, "/health", nil, nil); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
	if code := env.do("", http.MethodGet, "/products", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("products without token = %d, want 401", code)
	}
	if code := env.do("", http.MethodGet, "/metrics", nil, nil); code != http.StatusOK {
		t.Fatalf("metrics = %d", code)
	}

	var login authResponse
	env.mustDo("", http.MethodPost, "/auth/login", loginRequest{Username: "cashier", Password: "secret"}, http.StatusOK, &login)
	if login.Token == "" || login.User.Role != domain.RoleCashier {
		t.Fatalf("login = %+v", login)
	}

	var body map[string]string
	if code := env.do("", http.MethodPost, "/auth/login", loginRequest{Username: "cashier", Password: "wrong"}, &body); code != http.StatusUnauthorized {
		t.Fatalf("bad login = %d, want 401", code)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message, got %v", body)
	}
}

func TestRoleRules(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name   string
		role   domain.Role
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"cashier cannot edit catalog", domain.RoleCashier, http.MethodPost, "/categories", map[string]string{"name": "Analgesics"}, http.StatusForbidden},
		{"pharmacist edits catalog", domain.RolePharmacist, http.MethodPost, "/categories", map[string]string{"name": "Analgesics"}, http.StatusCreated},
		{"cashier lists catalog", domain.RoleCashier, http.MethodGet, "/categories", nil, http.StatusOK},
		{"cashier cannot create users", domain.RoleCashier, http.MethodPost, "/users", map[string]string{"username": "x", "password": "y", "role": "cashier"}, http.StatusForbidden},
		{"admin creates users", domain.RoleAdmin, http.MethodPost, "/users", map[string]string{"username": "new", "password": "pw", "role": "cashier"}, http.StatusCreated},
		{"cashier cannot open purchase orders", domain.RoleCashier, http.MethodPost, "/purchase-orders", map[string]int{"supplier_id": 1}, http.StatusForbidden},
		{"cashier adds customers", domain.RoleCashier, http.MethodPost, "/customers", map[string]string{"name": "Jane"}, http.StatusCreated},
		{"cashier cannot read reports", domain.RoleCashier, http.MethodGet, "/reports/sales/daily", nil, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code := env.do(tc.role, tc.method, tc.path, tc.body, nil); code != tc.want {
				t.Fatalf("%s %s as %s = %d, want %d", tc.method, tc.path, tc.role, code, tc.want)
			}
		})
	}
}

func TestInvalidToken(t *testing.T) {
	env := newAPIEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/sales", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}

func TestSaleFlow(t *testing.T) {
	env := newAPIEnv(t)
	productID, lotID := env.stock("Paracetamol", 10, "2025-01-31", "2.50")

	var sale domain.Sale
	env.mustDo(domain.RoleCashier, http.MethodPost, "/sales", map[string]interface{}{
		"items":    []map[string]int64{{"product_id": productID, "quantity": 4}},
		"payments": []map[string]string{{"amount": "5.00", "method": "cash"}},
	}, http.StatusCreated, &sale)
	if !sale.TotalAmount.Equal(decimal.NewFromInt(10)) || !sale.BalanceDue.Equal(decimal.NewFromInt(5)) || sale.Status != domain.SalePartial {
		t.Fatalf("sale = total %s balance %s status %s", sale.TotalAmount, sale.BalanceDue, sale.Status)
	}

	var info domain.StockInfo
	env.mustDo(domain.RoleCashier, http.MethodGet, "/products/"+itoa(productID)+"/stock", nil, http.StatusOK, &info)
	if info.Sellable != 6 {
		t.Fatalf("sellable = %d, want 6", info.Sellable)
	}

	env.mustDo(domain.RoleCashier, http.MethodPost, "/sales/"+itoa(sale.ID)+"/payments",
		map[string]string{"amount": "5.00", "method": "card", "payment_date": "2024-06-01"}, http.StatusCreated, &sale)
	if sale.Status != domain.SalePaid {
		t.Fatalf("status = %s, want paid", sale.Status)
	}

	var inv domain.Invoice
	env.mustDo(domain.RoleCashier, http.MethodPost, "/sales/"+itoa(sale.ID)+"/invoices", nil, http.StatusCreated, &inv)
	if inv.SaleID != sale.ID || inv.Number == "" {
		t.Fatalf("invoice = %+v", inv)
	}

	var movements []domain.StockMovement
	env.mustDo(domain.RoleCashier, http.MethodGet, "/lots/"+itoa(lotID)+"/movements", nil, http.StatusOK, &movements)
	if len(movements) != 2 {
		t.Fatalf("movements = %d, want receipt and sale", len(movements))
	}

	if code := env.do(domain.RoleCashier, http.MethodDelete, "/sales/"+itoa(sale.ID), nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete = %d", code)
	}
	env.mustDo(domain.RoleCashier, http.MethodGet, "/products/"+itoa(productID)+"/stock", nil, http.StatusOK, &info)
	if info.Sellable != 10 {
		t.Fatalf("sellable after delete = %d, want 10", info.Sellable)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newAPIEnv(t)
	productID, lotID := env.stock("Ibuprofen", 3, "2025-01-31", "4.00")

	t.Run("insufficient stock", func(t *testing.T) {
		var body struct {
			Error     string `json:"error"`
			Field     string `json:"field"`
			ProductID int64  `json:"product_id"`
			Requested int64  `json:"requested"`
			Available int64  `json:"available"`
		}
		code := env.do(domain.RoleCashier, http.MethodPost, "/sales", map[string]interface{}{
			"items": []map[string]int64{{"product_id": productID, "quantity": 5}},
		}, &body)
		if code != http.StatusConflict {
			t.Fatalf("code = %d, want 409", code)
		}
		if body.Field != "items.0.quantity" || body.ProductID != productID || body.Requested != 5 || body.Available != 3 {
			t.Fatalf("body = %+v", body)
		}
	})

	t.Run("validation", func(t *testing.T) {
		var body struct {
			Fields map[string]string `json:"fields"`
		}
		code := env.do(domain.RoleCashier, http.MethodPost, "/sales", map[string]interface{}{
			"sale_date": "01/06/2024",
			"items":     []map[string]int64{{"product_id": productID, "quantity": 1}},
		}, &body)
		if code != http.StatusBadRequest {
			t.Fatalf("code = %d, want 400", code)
		}
		if _, ok := body.Fields["sale_date"]; !ok {
			t.Fatalf("fields = %v, want sale_date", body.Fields)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if code := env.do(domain.RoleCashier, http.MethodGet, "/sales/999", nil, nil); code != http.StatusNotFound {
			t.Fatalf("code = %d, want 404", code)
		}
	})

	t.Run("bad path id", func(t *testing.T) {
		if code := env.do(domain.RoleCashier, http.MethodGet, "/sales/abc", nil, nil); code != http.StatusBadRequest {
			t.Fatalf("code = %d, want 400", code)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		if code := env.do(domain.RoleCashier, http.MethodPost, "/customers", map[string]string{"nickname": "J"}, nil); code != http.StatusBadRequest {
			t.Fatalf("code = %d, want 400", code)
		}
	})

	t.Run("conflict", func(t *testing.T) {
		if code := env.do(domain.RolePharmacist, http.MethodPost, "/lots/"+itoa(lotID)+"/write-off", nil, nil); code != http.StatusConflict {
			t.Fatalf("write-off of a fresh lot = %d, want 409", code)
		}
		if code := env.do(domain.RoleAdmin, http.MethodDelete, "/products/"+itoa(productID), nil, nil); code != http.StatusConflict {
			t.Fatalf("delete stocked product = %d, want 409", code)
		}
	})

	t.Run("invalid adjustment", func(t *testing.T) {
		code := env.do(domain.RolePharmacist, http.MethodPost, "/lots/"+itoa(lotID)+"/movements", map[string]interface{}{
			"delta":         -10,
			"movement_type": "out",
		}, nil)
		if code != http.StatusUnprocessableEntity {
			t.Fatalf("code = %d, want 422", code)
		}
	})
}

func TestCountAndAllocationPreview(t *testing.T) {
	env := newAPIEnv(t)
	productID, lotID := env.stock("Amoxicillin", 8, "2025-03-31", "3.00")

	var counted countResponse
	env.mustDo(domain.RolePharmacist, http.MethodPost, "/lots/"+itoa(lotID)+"/count",
		map[string]interface{}{"counted_quantity": 6, "comment": "shelf check"}, http.StatusOK, &counted)
	if !counted.Changed || counted.Movement == nil || counted.Movement.Quantity != 2 || counted.Movement.QuantityAfter != 6 {
		t.Fatalf("count = %+v", counted)
	}

	env.mustDo(domain.RolePharmacist, http.MethodPost, "/lots/"+itoa(lotID)+"/count",
		map[string]interface{}{"counted_quantity": 6}, http.StatusOK, &counted)
	if counted.Changed {
		t.Fatalf("matching count should not change the lot")
	}

	var preview service.AllocationPreview
	env.mustDo(domain.RoleCashier, http.MethodPost, "/allocations/validate",
		allocationRequest{ProductID: productID, Quantity: 7}, http.StatusOK, &preview)
	if preview.Valid || preview.Available != 6 {
		t.Fatalf("preview = %+v", preview)
	}
}
