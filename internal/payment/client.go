package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Deposit 充值下单结果，金额统一换算为整数货币单位
type Deposit struct {
	Amount         int64      `json:"amount"`
	Fee            int64      `json:"fee"`
	Total          int64      `json:"total_amount"`
	TransactionID  string     `json:"transaction_id"`
	QRISURL        string     `json:"qris_url"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	ExpiredMinutes int        `json:"expired_minutes,omitempty"`
}

type Status struct {
	Paid   bool   `json:"paid"`
	Status string `json:"status"`
}

// APIError 对端返回非 200 或无法识别的响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s (status: %d)", e.Body, e.StatusCode)
}

// DefaultLocation 支付方返回的无时区时间按 WIB 解析
var DefaultLocation = time.FixedZone("WIB", 7*60*60)

type Client struct {
	APIURL     string
	HTTPClient *http.Client
	Location   *time.Location
}

func NewClient(apiURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		APIURL: strings.TrimRight(apiURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Location: DefaultLocation,
	}
}

// CreateDeposit GET /api/deposit?amount=&apikey=
func (c *Client) CreateDeposit(ctx context.Context, amount int64, apiKey string) (*Deposit, error) {
	q := url.Values{}
	q.Set("amount", fmt.Sprint(amount))
	q.Set("apikey", apiKey)

	body, err := c.get(ctx, "/api/deposit", q)
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.IsObject() {
		return nil, &APIError{StatusCode: http.StatusOK, Body: string(body)}
	}
	dep := &Deposit{
		Amount:         units(data.Get("amount")),
		Fee:            units(data.Get("fee")),
		Total:          units(data.Get("total_amount")),
		TransactionID:  data.Get("transaction_id").String(),
		QRISURL:        strings.TrimSpace(strings.ReplaceAll(data.Get("qris_url").String(), "`", "")),
		ExpiredMinutes: int(data.Get("expired_minutes").Int()),
	}
	if dep.TransactionID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Body: string(body)}
	}
	if dep.Amount == 0 {
		dep.Amount = amount
	}
	if raw := data.Get("expired_at").String(); raw != "" {
		if at, ok := parseTime(raw, c.Location); ok {
			dep.ExpiredAt = &at
		}
	}
	return dep, nil
}

// CheckStatus GET /api/status/payment?transaction_id=&apikey=，只有 paid === true 视为已支付
func (c *Client) CheckStatus(ctx context.Context, transactionID, apiKey string) (*Status, error) {
	q := url.Values{}
	q.Set("transaction_id", transactionID)
	q.Set("apikey", apiKey)

	body, err := c.get(ctx, "/api/status/payment", q)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, &APIError{StatusCode: http.StatusOK, Body: string(body)}
	}
	paid := gjson.GetBytes(body, "paid")
	return &Status{
		Paid:   paid.Type == gjson.True,
		Status: gjson.GetBytes(body, "status").String(),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// units 兼容数字与字符串形式的金额，小数部分截断
func units(v gjson.Result) int64 {
	if !v.Exists() {
		return 0
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
	if err != nil {
		return 0
	}
	return d.IntPart()
}

// parseTime 带时区的按原时区，不带时区的按 loc
func parseTime(raw string, loc *time.Location) (time.Time, bool) {
	if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return at, true
	}
	if loc == nil {
		loc = DefaultLocation
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if at, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}
