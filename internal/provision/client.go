package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// 续期接口路径与协议的对应关系
var renewPaths = map[string]string{
	"vmess":  "renws",
	"ssh":    "rensh",
	"trojan": "rentr",
	"vless":  "renvl",
}

var ErrUnknownType = errors.New("unknown account type")

// Target 目标节点
type Target struct {
	Domain string
	Auth   string
}

type CreateRequest struct {
	Type     string
	User     string
	Password string
	Exp      int
	LimitIP  int
	Quota    int64
}

type RenewRequest struct {
	Type string
	Num  string
	Exp  int
}

// Result 上游成功返回的账号数据，优先取 data 字段
type Result struct {
	Data json.RawMessage
}

// APIError 上游非 200，Op 为 create、trial 或 renew
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: %s (status: %d)", e.Op, e.Body, e.StatusCode)
}

// FailedError 上游返回 {"status":"failed"}
type FailedError struct {
	Message string
}

func (e *FailedError) Error() string {
	return "provisioning failed: " + e.Message
}

type Client struct {
	Scheme     string
	HTTPClient *http.Client
}

func NewClient(scheme string, timeout time.Duration) *Client {
	if scheme == "" {
		scheme = "https"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		Scheme: scheme,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Create(ctx context.Context, t Target, req CreateRequest) (*Result, error) {
	if !knownType(req.Type) {
		return nil, ErrUnknownType
	}
	q := url.Values{}
	q.Set("auth", t.Auth)
	q.Set("user", req.User)
	if req.Type == "ssh" {
		q.Set("password", req.Password)
	} else {
		q.Set("quota", fmt.Sprint(req.Quota))
	}
	q.Set("exp", fmt.Sprint(req.Exp))
	q.Set("limitip", fmt.Sprint(req.LimitIP))
	return c.call(ctx, "create", t.Domain, "create-"+req.Type, q)
}

// Trial ssh 试用只需要 auth
func (c *Client) Trial(ctx context.Context, t Target, req CreateRequest) (*Result, error) {
	if !knownType(req.Type) {
		return nil, ErrUnknownType
	}
	q := url.Values{}
	q.Set("auth", t.Auth)
	if req.Type != "ssh" {
		q.Set("user", req.User)
		q.Set("quota", fmt.Sprint(req.Quota))
		q.Set("limitip", fmt.Sprint(req.LimitIP))
		q.Set("exp", fmt.Sprint(req.Exp))
	}
	return c.call(ctx, "trial", t.Domain, "trial-"+req.Type, q)
}

func (c *Client) Renew(ctx context.Context, t Target, req RenewRequest) (*Result, error) {
	path, ok := renewPaths[req.Type]
	if !ok {
		return nil, ErrUnknownType
	}
	q := url.Values{}
	q.Set("auth", t.Auth)
	q.Set("num", req.Num)
	q.Set("exp", fmt.Sprint(req.Exp))
	return c.call(ctx, "renew", t.Domain, path, q)
}

func (c *Client) call(ctx context.Context, op, domain, endpoint string, q url.Values) (*Result, error) {
	u := fmt.Sprintf("%s://%s/api/%s?%s", c.Scheme, strings.TrimRight(domain, "/"), endpoint, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &APIError{Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if !gjson.ValidBytes(body) {
		return &Result{Data: mustJSON(string(body))}, nil
	}
	if gjson.GetBytes(body, "status").String() == "failed" {
		return nil, &FailedError{Message: gjson.GetBytes(body, "message").String()}
	}
	if data := gjson.GetBytes(body, "data"); data.Exists() {
		return &Result{Data: json.RawMessage(data.Raw)}, nil
	}
	return &Result{Data: json.RawMessage(body)}, nil
}

func knownType(kind string) bool {
	_, ok := renewPaths[kind]
	return ok
}

func mustJSON(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
