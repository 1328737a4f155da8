// Package httpapi implements the Authority port over the record keeper's
// HTTP API. Domain errors round-trip through the error envelope; network
// and decode failures surface as TransportError so callers know the
// outcome is unknown.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"saldo/internal/api"
	"saldo/internal/authority"
	"saldo/internal/core"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ authority.Authority = (*Client)(nil)

type Option func(*Client)

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateExpense(ctx context.Context, input authority.NewExpense) (core.Expense, error) {
	req := api.CreateExpenseRequest{
		Description: input.Description,
		Amount:      input.Amount.String(),
		MemberID:    input.MemberID,
		Date:        input.Date.String(),
	}
	var resp api.Expense
	if err := c.do(ctx, http.MethodPost, "/api/expenses", req, &resp); err != nil {
		return core.Expense{}, err
	}
	return c.decodeExpense(resp)
}

func (c *Client) Expense(ctx context.Context, id string) (core.Expense, error) {
	var resp api.Expense
	if err := c.do(ctx, http.MethodGet, "/api/expenses/"+id, nil, &resp); err != nil {
		return core.Expense{}, err
	}
	return c.decodeExpense(resp)
}

func (c *Client) Expenses(ctx context.Context) ([]core.Expense, error) {
	var resp []api.Expense
	if err := c.do(ctx, http.MethodGet, "/api/expenses", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Expense, 0, len(resp))
	for _, we := range resp {
		e, err := c.decodeExpense(we)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) History(ctx context.Context, expenseID string) ([]core.Payment, error) {
	var resp []api.Payment
	if err := c.do(ctx, http.MethodGet, "/api/expenses/"+expenseID+"/payments", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Payment, 0, len(resp))
	for _, wp := range resp {
		p, err := api.PaymentToCore(wp)
		if err != nil {
			return nil, &core.TransportError{Op: "decode payment", Err: err}
		}
		p.ExpenseID = expenseID
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) SubmitClearing(ctx context.Context, req authority.Clearing) (core.Expense, core.Payment, error) {
	body := api.ClearRequest{
		PayerID: req.PayerID,
		Amount:  req.Amount.String(),
	}
	var resp api.ClearResponse
	path := "/api/expenses/" + req.ExpenseID + "/clear"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return core.Expense{}, core.Payment{}, err
	}
	expense, err := c.decodeExpense(resp.Expense)
	if err != nil {
		return core.Expense{}, core.Payment{}, err
	}
	payment, err := api.PaymentToCore(resp.Payment)
	if err != nil {
		return core.Expense{}, core.Payment{}, &core.TransportError{Op: "decode payment", Err: err}
	}
	payment.ExpenseID = req.ExpenseID
	return expense, payment, nil
}

func (c *Client) BudgetStatus(ctx context.Context, memberID string) (core.BudgetStatus, error) {
	var resp api.BudgetStatus
	if err := c.do(ctx, http.MethodGet, "/api/budgets/"+memberID, nil, &resp); err != nil {
		return core.BudgetStatus{}, err
	}
	monthly, err := core.ParseAmount(resp.MonthlyBudget)
	if err != nil {
		return core.BudgetStatus{}, &core.TransportError{Op: "decode budget", Err: err}
	}
	used, remaining := parseSigned(resp.Used), parseSigned(resp.Remaining)
	return core.BudgetStatus{
		MemberID:      resp.MemberID,
		MonthlyBudget: monthly,
		Used:          used,
		Remaining:     remaining,
	}, nil
}

func (c *Client) SetBudget(ctx context.Context, memberID string, monthly core.Money) error {
	req := api.SetBudgetRequest{MonthlyBudget: monthly.String()}
	return c.do(ctx, http.MethodPut, "/api/budgets/"+memberID, req, nil)
}

// parseSigned reads a budget figure that may legitimately be zero or
// negative, which ParseAmount rejects for payment amounts.
func parseSigned(s string) core.Money {
	if s == "" {
		return core.Money{}
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	m, err := core.ParseAmount(s)
	if err != nil {
		return core.Money{}
	}
	if neg {
		m.Cents = -m.Cents
	}
	return m
}

func (c *Client) decodeExpense(we api.Expense) (core.Expense, error) {
	e, err := api.ExpenseToCore(we)
	if err != nil {
		return core.Expense{}, &core.TransportError{Op: "decode expense", Err: err}
	}
	return e, nil
}

// do executes one JSON request. A non-2xx response with a decodable error
// envelope maps back to the domain taxonomy; anything else is a transport
// failure.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &core.TransportError{Op: "encode request", Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &core.TransportError{Op: "build request", Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &core.TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &core.TransportError{Op: "decode response", Err: err}
		}
		return nil
	}

	var envelope api.Error
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Code == "" {
		return &core.TransportError{
			Op:  method + " " + path,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return api.ErrorToDomain(envelope)
}
