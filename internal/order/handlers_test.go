package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/asaigon/storefront/internal/middleware"
	"github.com/asaigon/storefront/internal/payment/vnpay"
	"github.com/asaigon/storefront/internal/types/order"
	"github.com/asaigon/storefront/internal/types/user"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupOrderRouter(gw *mockGateway) (chi.Router, *memRepo) {
	repo := newMemRepo()
	h := NewHandler(NewService(repo, repo, gw))

	r := chi.NewRouter()
	r.Get("/api/payments/vnpay/ipn", h.VNPayIPN)
	r.Post("/api/verify-payment", h.VerifyPayment)
	r.Post("/api/orders", h.Checkout)
	r.Get("/api/orders", h.ListOrders)
	r.Get("/api/orders/{id}", h.GetOrder)
	r.Get("/api/admin/orders", h.AdminListOrders)
	r.Put("/api/admin/orders/{id}", h.AdminUpdateStatus)
	return r, repo
}

func asUser(req *http.Request, id string, role user.Role) *http.Request {
	return req.WithContext(middleware.ContextWithUser(req.Context(), middleware.Identity{ID: id, Role: role}))
}

func doRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

const validCart = `{"items":[{"productId":1,"name":"Áo dài","unitPrice":100000,"quantity":2}],"totalAmount":200000}`

func TestCheckoutHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		buildErr   error
		wantStatus int
		wantBody   string
	}{
		{"valid cart", validCart, nil, http.StatusCreated, `"paymentUrl":"https://pay.example/?vnp_TxnRef=1"`},
		{"bad json", `{"items":`, nil, http.StatusBadRequest, `"invalid_request"`},
		{"total mismatch", `{"items":[{"productId":1,"unitPrice":100000,"quantity":2}],"totalAmount":1}`, nil, http.StatusBadRequest, `"validation_error"`},
		{"missing total", `{"items":[{"productId":1,"unitPrice":100000,"quantity":2}]}`, nil, http.StatusBadRequest, `"validation_error"`},
		{"gateway down", validCart, errors.New("timeout"), http.StatusServiceUnavailable, `"payment_unavailable"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := trustingGateway()
			if tt.buildErr != nil {
				gw.buildFn = func(context.Context, vnpay.PaymentRequest) (string, error) { return "", tt.buildErr }
			}
			r, _ := setupOrderRouter(gw)
			req := asUser(httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(tt.body)), "u1", user.RoleCustomer)
			rec := doRequest(r, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestCheckoutHandlerUsesCallerID(t *testing.T) {
	r, repo := setupOrderRouter(trustingGateway())
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(validCart)), "u42", user.RoleCustomer)
	rec := doRequest(r, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u42", repo.orders[1].UserID)
}

func TestListAndGetOrderHandlers(t *testing.T) {
	r, _ := setupOrderRouter(trustingGateway())

	rec := doRequest(r, asUser(httptest.NewRequest(http.MethodGet, "/api/orders", nil), "u1", user.RoleCustomer))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	doRequest(r, asUser(httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(validCart)), "u1", user.RoleCustomer))

	rec = doRequest(r, asUser(httptest.NewRequest(http.MethodGet, "/api/orders", nil), "u1", user.RoleCustomer))
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, order.StatusPending, orders[0].Status)

	tests := []struct {
		name       string
		target     string
		userID     string
		wantStatus int
	}{
		{"owner", "/api/orders/1", "u1", http.StatusOK},
		{"other user", "/api/orders/1", "u2", http.StatusNotFound},
		{"unknown id", "/api/orders/77", "u1", http.StatusNotFound},
		{"bad id", "/api/orders/abc", "u1", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := doRequest(r, asUser(httptest.NewRequest(http.MethodGet, tt.target, nil), tt.userID, user.RoleCustomer))
		assert.Equal(t, tt.wantStatus, rec.Code, tt.name)
	}
}

func TestVNPayIPNHandler(t *testing.T) {
	r, repo := setupOrderRouter(trustingGateway())
	doRequest(r, asUser(httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(validCart)), "u1", user.RoleCustomer))

	tests := []struct {
		name     string
		query    string
		wantCode string
	}{
		{"bad signature", "vnp_TxnRef=1&vnp_Amount=20000000&vnp_ResponseCode=00&vnp_SecureHash=nope", "97"},
		{"unknown order", "vnp_TxnRef=5&vnp_Amount=20000000&vnp_ResponseCode=00&vnp_SecureHash=ok", "01"},
		{"wrong amount", "vnp_TxnRef=1&vnp_Amount=1&vnp_ResponseCode=00&vnp_SecureHash=ok", "04"},
		{"success", "vnp_TxnRef=1&vnp_Amount=20000000&vnp_ResponseCode=00&vnp_TransactionNo=99&vnp_SecureHash=ok", "00"},
		{"repeat", "vnp_TxnRef=1&vnp_Amount=20000000&vnp_ResponseCode=00&vnp_TransactionNo=99&vnp_SecureHash=ok", "00"},
		{"conflicting failure", "vnp_TxnRef=1&vnp_Amount=20000000&vnp_ResponseCode=24&vnp_SecureHash=ok", "02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(r, httptest.NewRequest(http.MethodGet, "/api/payments/vnpay/ipn?"+tt.query, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			var resp callbackResp
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.RspCode)
		})
	}
	assert.Equal(t, order.StatusCompleted, repo.orders[1].Status)
}

func TestVerifyPaymentHandler(t *testing.T) {
	r, _ := setupOrderRouter(trustingGateway())
	doRequest(r, asUser(httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(validCart)), "u1", user.RoleCustomer))

	rec := doRequest(r, httptest.NewRequest(http.MethodPost, "/api/verify-payment", strings.NewReader("not json")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"RspCode":"99"`)

	body := `{"vnp_TxnRef":"1","vnp_Amount":"20000000","vnp_ResponseCode":"24","vnp_SecureHash":"ok"}`
	rec = doRequest(r, httptest.NewRequest(http.MethodPost, "/api/verify-payment", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp verifyResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "00", resp.RspCode)
	assert.False(t, resp.Success)
	assert.Equal(t, int64(1), resp.OrderID)
	assert.Equal(t, order.StatusPaymentFailed, resp.Status)
}

func TestAdminHandlers(t *testing.T) {
	r, _ := setupOrderRouter(trustingGateway())

	rec := doRequest(r, httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	doRequest(r, asUser(httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(validCart)), "u1", user.RoleCustomer))

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
	}{
		{"bad json", "/api/admin/orders/1", `{`, http.StatusBadRequest},
		{"unknown status", "/api/admin/orders/1", `{"status":"shipped"}`, http.StatusBadRequest},
		{"illegal transition", "/api/admin/orders/1", `{"status":"delivered"}`, http.StatusConflict},
		{"unknown order", "/api/admin/orders/9", `{"status":"cancelled"}`, http.StatusNotFound},
		{"cancel", "/api/admin/orders/1", `{"status":"cancelled"}`, http.StatusOK},
		{"cancel again", "/api/admin/orders/1", `{"status":"cancelled"}`, http.StatusOK},
	}
	for _, tt := range tests {
		rec := doRequest(r, httptest.NewRequest(http.MethodPut, tt.target, strings.NewReader(tt.body)))
		assert.Equal(t, tt.wantStatus, rec.Code, tt.name)
	}

	rec = doRequest(r, httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil))
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)
}
