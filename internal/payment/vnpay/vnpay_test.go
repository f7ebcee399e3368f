package vnpay

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "SECRETKEY123"

func newTestClient() *Client {
	c := NewClient(Config{
		TmnCode:    "ASG00001",
		HashSecret: testSecret,
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "http://localhost:3000/payment/vnpay-return",
	})
	c.now = func() time.Time { return time.Date(2025, 3, 1, 3, 4, 5, 0, time.UTC) }
	return c
}

func signedCallback(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[ParamSecureHash] = sign(testSecret, canonicalQuery(params))
	return out
}

func successParams() map[string]string {
	return map[string]string{
		"vnp_Amount":            "20000000",
		"vnp_BankCode":          "NCB",
		"vnp_OrderInfo":         "Thanh toan don hang 1",
		"vnp_PayDate":           "20250301100405",
		"vnp_ResponseCode":      "00",
		"vnp_TmnCode":           "ASG00001",
		"vnp_TransactionNo":     "14000001",
		"vnp_TransactionStatus": "00",
		"vnp_TxnRef":            "1",
	}
}

func TestBuildPaymentRedirect(t *testing.T) {
	c := newTestClient()
	raw, err := c.BuildPaymentRedirect(context.Background(), PaymentRequest{
		OrderID:  1,
		Amount:   decimal.NewFromInt(200000),
		ClientIP: "10.0.0.1",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "20000000", q.Get("vnp_Amount"))
	assert.Equal(t, "1", q.Get("vnp_TxnRef"))
	assert.Equal(t, "pay", q.Get("vnp_Command"))
	assert.Equal(t, "VND", q.Get("vnp_CurrCode"))
	assert.Equal(t, "20250301100405", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20250301101905", q.Get("vnp_ExpireDate"))
	assert.Equal(t, "Thanh toan don hang 1", q.Get("vnp_OrderInfo"))
	assert.Len(t, q.Get(ParamSecureHash), 128)
}

func TestBuiltRedirectVerifies(t *testing.T) {
	c := newTestClient()
	raw, err := c.BuildPaymentRedirect(context.Background(), PaymentRequest{
		OrderID:   7,
		Amount:    decimal.RequireFromString("150000.50"),
		OrderInfo: "Áo dài (size M) & nón lá!",
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	params := map[string]string{}
	for k, v := range u.Query() {
		params[k] = v[0]
	}

	// the redirect is signed the way callbacks are, but it is not a result
	v, err := c.VerifyCallback(params)
	assert.ErrorIs(t, err, ErrMalformedCallback)
	assert.True(t, v.Valid)
	assert.Equal(t, "7", v.OrderRef)
	assert.Equal(t, int64(15000050), v.Amount)
}

func TestVerifyCallbackRejectsNonResults(t *testing.T) {
	c := newTestClient()
	tests := []struct {
		name   string
		mutate func(p map[string]string)
	}{
		{"missing response code", func(p map[string]string) { delete(p, "vnp_ResponseCode") }},
		{"missing transaction number", func(p map[string]string) { delete(p, "vnp_TransactionNo") }},
		{"empty transaction number", func(p map[string]string) { p["vnp_TransactionNo"] = "" }},
		{"carries command", func(p map[string]string) { p["vnp_Command"] = CommandPay }},
		{"carries return url", func(p map[string]string) { p["vnp_ReturnUrl"] = "http://localhost:3000" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := successParams()
			tt.mutate(p)
			v, err := c.VerifyCallback(signedCallback(p))
			assert.ErrorIs(t, err, ErrMalformedCallback)
			assert.True(t, v.Valid)
		})
	}

	// unsigned parameters are reported as invalid before their shape matters
	p := successParams()
	delete(p, "vnp_ResponseCode")
	v, err := c.VerifyCallback(p)
	require.NoError(t, err)
	assert.False(t, v.Valid)
}

func TestBuildPaymentRedirectErrors(t *testing.T) {
	c := NewClient(Config{PayURL: "https://pay.example"})
	_, err := c.BuildPaymentRedirect(context.Background(), PaymentRequest{OrderID: 1, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrMissingSecret)

	c = newTestClient()
	_, err = c.BuildPaymentRedirect(context.Background(), PaymentRequest{OrderID: 1, Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.BuildPaymentRedirect(ctx, PaymentRequest{OrderID: 1, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyCallback(t *testing.T) {
	c := newTestClient()

	tests := []struct {
		name      string
		params    func() map[string]string
		wantValid bool
	}{
		{
			name:      "valid signature",
			params:    func() map[string]string { return signedCallback(successParams()) },
			wantValid: true,
		},
		{
			name: "uppercase hex signature",
			params: func() map[string]string {
				p := signedCallback(successParams())
				p[ParamSecureHash] = strings.ToUpper(p[ParamSecureHash])
				return p
			},
			wantValid: true,
		},
		{
			name: "hash type is not signed",
			params: func() map[string]string {
				p := signedCallback(successParams())
				p[ParamSecureHashType] = "HmacSHA512"
				return p
			},
			wantValid: true,
		},
		{
			name: "flipped signature character",
			params: func() map[string]string {
				p := signedCallback(successParams())
				h := []byte(p[ParamSecureHash])
				if h[0] == 'a' {
					h[0] = 'b'
				} else {
					h[0] = 'a'
				}
				p[ParamSecureHash] = string(h)
				return p
			},
			wantValid: false,
		},
		{
			name: "tampered amount",
			params: func() map[string]string {
				p := signedCallback(successParams())
				p["vnp_Amount"] = "100"
				return p
			},
			wantValid: false,
		},
		{
			name: "missing signature",
			params: func() map[string]string {
				p := successParams()
				return p
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := c.VerifyCallback(tt.params())
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, v.Valid)
			assert.Equal(t, "1", v.OrderRef)
		})
	}
}

func TestVerifyCallbackFields(t *testing.T) {
	v, err := newTestClient().VerifyCallback(signedCallback(successParams()))
	require.NoError(t, err)
	assert.Equal(t, "00", v.ResponseCode)
	assert.Equal(t, "14000001", v.ProviderTxnID)
	assert.Equal(t, int64(20000000), v.Amount)
	assert.Equal(t, "NCB", v.BankCode)
	assert.True(t, v.Succeeded())

	p := successParams()
	p["vnp_ResponseCode"] = "24"
	v, err = newTestClient().VerifyCallback(signedCallback(p))
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.False(t, v.Succeeded())
}

func TestVerifyCallbackIsDeterministic(t *testing.T) {
	c := newTestClient()
	params := signedCallback(successParams())
	first, err := c.VerifyCallback(params)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.VerifyCallback(params)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	_, stillThere := params[ParamSecureHash]
	assert.True(t, stillThere)
}

func TestVerifyCallbackMissingSecret(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.VerifyCallback(signedCallback(successParams()))
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestEncodeValue(t *testing.T) {
	tests := map[string]string{
		"Thanh toan don hang": "Thanh+toan+don+hang",
		"a&b=c":               "a%26b%3Dc",
		"(x)!*'~-_.":          "(x)!*'~-_.",
		"Áo":                  "%C3%81o",
		"http://a/b?c":        "http%3A%2F%2Fa%2Fb%3Fc",
	}
	for in, want := range tests {
		assert.Equal(t, want, encodeValue(in), in)
	}
}

func TestCanonicalQuerySortsKeys(t *testing.T) {
	got := canonicalQuery(map[string]string{"vnp_b": "2", "vnp_A": "1", "vnp_a": "3"})
	assert.Equal(t, "vnp_A=1&vnp_a=3&vnp_b=2", got)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, "20000000", ToMinorUnits(decimal.NewFromInt(200000)))
	assert.Equal(t, "15000050", ToMinorUnits(decimal.RequireFromString("150000.50")))
}
