package order

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/asaigon/storefront/internal/logger"
	"github.com/asaigon/storefront/internal/middleware"
	"github.com/asaigon/storefront/internal/types/order"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type checkoutReq struct {
	Items       []order.Item     `json:"items"`
	TotalAmount *decimal.Decimal `json:"totalAmount"`
}

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type callbackResp struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

type verifyResp struct {
	RspCode string            `json:"RspCode"`
	Message string            `json:"Message"`
	Success bool              `json:"success"`
	OrderID int64             `json:"orderId,omitempty"`
	Status  order.OrderStatus `json:"status,omitempty"`
}

type statusReq struct {
	Status order.OrderStatus `json:"status"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.UserFromContext(r.Context())

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Dữ liệu gửi lên không hợp lệ")
		return
	}

	res, err := h.svc.Checkout(r.Context(), CheckoutRequest{
		UserID:      caller.ID,
		Items:       req.Items,
		TotalAmount: req.TotalAmount,
		ClientIP:    clientIP(r),
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.UserFromContext(r.Context())
	orders, err := h.svc.ListOrders(r.Context(), caller.ID)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.UserFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeOrderError(w, ErrNotFound)
		return
	}
	o, err := h.svc.GetOrder(r.Context(), caller.ID, id)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// VNPayIPN is the provider's server-to-server notification. VNPay expects
// HTTP 200 with a JSON RspCode whatever the outcome.
func (h *Handler) VNPayIPN(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	_, err := h.svc.HandleCallback(r.Context(), params)
	code, msg := CallbackResponse(err)
	writeJSON(w, http.StatusOK, callbackResp{RspCode: code, Message: msg})
}

// VerifyPayment is called by the storefront's return page with the query
// parameters VNPay appended to the return URL.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var params map[string]string
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusOK, verifyResp{RspCode: "99", Message: "Invalid request"})
		return
	}
	res, err := h.svc.HandleCallback(r.Context(), params)
	code, msg := CallbackResponse(err)
	resp := verifyResp{RspCode: code, Message: msg}
	if res != nil {
		resp.OrderID = res.Order.ID
		resp.Status = res.Order.Status
		resp.Success = res.Order.Status == order.StatusCompleted
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListAllOrders(r.Context())
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeOrderError(w, ErrNotFound)
		return
	}
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Dữ liệu gửi lên không hợp lệ")
		return
	}
	o, err := h.svc.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAmountMismatch):
		writeError(w, http.StatusBadRequest, "validation_error", "Thông tin đơn hàng không hợp lệ")
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Không tìm thấy đơn hàng")
	case errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "Không thể chuyển sang trạng thái này")
	case errors.Is(err, ErrUpstream):
		writeError(w, http.StatusServiceUnavailable, "payment_unavailable", "Không thể kết nối cổng thanh toán, vui lòng thử lại")
	default:
		logger.Log.Error("order request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Đã có lỗi xảy ra, vui lòng thử lại sau")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResp{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
