// Package vnpay builds VNPay (v2.1.0) payment redirects and verifies the
// signed parameters VNPay sends back on the return URL and the IPN callback.
package vnpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Version      = "2.1.0"
	CommandPay   = "pay"
	CurrencyVND  = "VND"
	OrderTypeAny = "other"

	ParamSecureHash     = "vnp_SecureHash"
	ParamSecureHashType = "vnp_SecureHashType"

	dateLayout = "20060102150405"
)

var (
	ErrMissingSecret = errors.New("vnpay: hash secret is not configured")
	ErrInvalidAmount = errors.New("vnpay: amount must be positive")
	// ErrMalformedCallback is returned for correctly signed parameters that
	// are not a payment result, such as a replayed payment redirect.
	ErrMalformedCallback = errors.New("vnpay: parameters are not a payment result")
)

// resultParams must be present in every callback VNPay sends.
var resultParams = []string{"vnp_ResponseCode", "vnp_TransactionNo", "vnp_TxnRef", "vnp_Amount"}

// requestParams only appear in the outbound redirect.
var requestParams = []string{"vnp_Command", "vnp_ReturnUrl", "vnp_IpAddr", "vnp_CreateDate", "vnp_ExpireDate"}

// vnpZone is the timezone VNPay expects for vnp_CreateDate and vnp_ExpireDate.
var vnpZone = time.FixedZone("GMT+7", 7*60*60)

type Config struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	ReturnURL   string
	Locale      string
	ExpireAfter time.Duration
}

type Client struct {
	cfg Config
	now func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	return &Client{cfg: cfg, now: time.Now}
}

type PaymentRequest struct {
	OrderID   int64
	Amount    decimal.Decimal
	OrderInfo string
	ClientIP  string
}

// Verification is the decoded result of a callback. Valid is false when the
// signature is absent or does not match; the other fields are filled either
// way so the caller can log them.
type Verification struct {
	Valid             bool
	ResponseCode      string
	TransactionStatus string
	OrderRef          string
	ProviderTxnID     string
	Amount            int64
	PayDate           string
	BankCode          string
}

// Succeeded reports whether VNPay marks the transaction as paid.
func (v Verification) Succeeded() bool {
	return v.ResponseCode == "00" && (v.TransactionStatus == "" || v.TransactionStatus == "00")
}

// BuildPaymentRedirect returns the signed URL the customer is sent to.
func (c *Client) BuildPaymentRedirect(ctx context.Context, req PaymentRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.cfg.HashSecret == "" {
		return "", ErrMissingSecret
	}
	if !req.Amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	if c.cfg.PayURL == "" {
		return "", errors.New("vnpay: pay url is not configured")
	}

	now := c.now().In(vnpZone)
	info := req.OrderInfo
	if info == "" {
		info = fmt.Sprintf("Thanh toan don hang %d", req.OrderID)
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := map[string]string{
		"vnp_Version":    Version,
		"vnp_Command":    CommandPay,
		"vnp_TmnCode":    c.cfg.TmnCode,
		"vnp_Amount":     ToMinorUnits(req.Amount),
		"vnp_CurrCode":   CurrencyVND,
		"vnp_TxnRef":     strconv.FormatInt(req.OrderID, 10),
		"vnp_OrderInfo":  info,
		"vnp_OrderType":  OrderTypeAny,
		"vnp_Locale":     c.cfg.Locale,
		"vnp_ReturnUrl":  c.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": now.Format(dateLayout),
		"vnp_ExpireDate": now.Add(c.cfg.ExpireAfter).Format(dateLayout),
	}

	query := canonicalQuery(params)
	return c.cfg.PayURL + "?" + query + "&" + ParamSecureHash + "=" + sign(c.cfg.HashSecret, query), nil
}

// VerifyCallback checks the signature of the parameters VNPay sent back.
// A valid signature over something that is not a payment result yields
// ErrMalformedCallback with Valid still set. It does not mutate params.
func (c *Client) VerifyCallback(params map[string]string) (Verification, error) {
	if c.cfg.HashSecret == "" {
		return Verification{}, ErrMissingSecret
	}

	v := Verification{
		ResponseCode:      params["vnp_ResponseCode"],
		TransactionStatus: params["vnp_TransactionStatus"],
		OrderRef:          params["vnp_TxnRef"],
		ProviderTxnID:     params["vnp_TransactionNo"],
		PayDate:           params["vnp_PayDate"],
		BankCode:          params["vnp_BankCode"],
	}
	if amount, err := strconv.ParseInt(params["vnp_Amount"], 10, 64); err == nil {
		v.Amount = amount
	}

	received := strings.ToLower(params[ParamSecureHash])
	if received == "" {
		return v, nil
	}

	signed := make(map[string]string, len(params))
	for k, val := range params {
		if k == ParamSecureHash || k == ParamSecureHashType {
			continue
		}
		signed[k] = val
	}
	expected := sign(c.cfg.HashSecret, canonicalQuery(signed))
	v.Valid = hmac.Equal([]byte(expected), []byte(received))
	if v.Valid {
		if err := checkResultShape(params); err != nil {
			return v, err
		}
	}
	return v, nil
}

func checkResultShape(params map[string]string) error {
	for _, k := range resultParams {
		if params[k] == "" {
			return fmt.Errorf("%w: missing %s", ErrMalformedCallback, k)
		}
	}
	for _, k := range requestParams {
		if _, ok := params[k]; ok {
			return fmt.Errorf("%w: unexpected %s", ErrMalformedCallback, k)
		}
	}
	return nil
}

// ToMinorUnits renders amount×100 as VNPay's integer vnp_Amount.
func ToMinorUnits(amount decimal.Decimal) string {
	return amount.Shift(2).Truncate(0).String()
}

// canonicalQuery sorts keys and joins k=v pairs with values encoded the way
// VNPay's reference implementation does (encodeURIComponent, space as '+').
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeValue(params[k]))
	}
	return b.String()
}

var componentUnescaper = strings.NewReplacer(
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func encodeValue(v string) string {
	return componentUnescaper.Replace(url.QueryEscape(v))
}

func sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
