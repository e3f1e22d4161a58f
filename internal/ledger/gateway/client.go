// Package gateway talks to a ledger gateway over HTTP. Submissions are
// signed envelopes; the gateway relays them to the network and answers
// once they are confirmed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"provisioner/internal/ledger"
	"provisioner/internal/ledger/retry"
	"provisioner/internal/metrics"

	"github.com/go-resty/resty/v2"
)

// Config holds gateway connection settings
type Config struct {
	BaseURL           string
	NetworkPassphrase string
	// Timeout bounds a single HTTP exchange; the caller's context may be shorter
	Timeout time.Duration
}

// Client implements ledger.Client against a ledger gateway
type Client struct {
	http    *resty.Client
	network string
	reads   retry.Strategy
}

var _ ledger.Client = (*Client)(nil)

// New creates a gateway client. The strategy applies to queries only.
func New(cfg Config, reads retry.Strategy) *Client {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    rc,
		network: cfg.NetworkPassphrase,
		reads:   reads,
	}
}

type apiError struct {
	Code    ledger.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

type receipt struct {
	TxID string `json:"tx_id"`
}

// submit signs body and posts it; it never retries
func (c *Client) submit(ctx context.Context, signer ledger.Signer, op, path string, body, result any) error {
	env, err := ledger.Sign(c.network, signer, op, body)
	if err != nil {
		return err
	}

	start := time.Now()
	var apiErr apiError
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(env).
		SetResult(result).
		SetError(&apiErr).
		Post(path)
	metrics.LedgerCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		err = transportError(op, err, true)
		observe(op, err)
		return err
	}
	if res.IsError() {
		err = classify(op, res.StatusCode(), apiErr, true)
		observe(op, err)
		return err
	}

	observe(op, nil)
	return nil
}

// query performs a GET through the read retry strategy
func (c *Client) query(ctx context.Context, op, path string, params map[string]string, result any) error {
	err := c.reads.Execute(ctx, func() error {
		start := time.Now()
		var apiErr apiError
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(result).
			SetError(&apiErr).
			Get(path)
		metrics.LedgerCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

		if err != nil {
			return transportError(op, err, false)
		}
		if res.IsError() {
			return classify(op, res.StatusCode(), apiErr, false)
		}
		return nil
	})
	observe(op, err)
	return err
}

// transportError maps a failed HTTP exchange. A submission that may have
// reached the gateway is ambiguous; one that never connected is not.
func transportError(op string, err error, submission bool) error {
	var opErr *net.OpError
	neverSent := errors.As(err, &opErr) && opErr.Op == "dial"
	if submission && !neverSent {
		return ledger.AmbiguousError(op, err)
	}
	return &ledger.Error{Code: ledger.CodeUnavailable, Message: fmt.Sprintf("%s request failed", op), Err: err}
}

// classify maps a gateway error response to a ledger error
func classify(op string, status int, body apiError, submission bool) error {
	msg := body.Message
	if msg == "" {
		msg = fmt.Sprintf("%s: gateway returned %d", op, status)
	}

	switch {
	case status == http.StatusGatewayTimeout || (submission && status == http.StatusBadGateway):
		// Relayed but confirmation did not arrive in time
		if submission {
			return &ledger.Error{Code: ledger.CodeUnavailable, Message: msg, Ambiguous: true}
		}
		return ledger.Errorf(ledger.CodeUnavailable, "%s", msg)
	case status >= 500:
		return ledger.Errorf(ledger.CodeUnavailable, "%s", msg)
	case body.Code != "":
		return ledger.Errorf(body.Code, "%s", msg)
	case status == http.StatusNotFound:
		return ledger.Errorf(ledger.CodeNotFound, "%s", msg)
	case status == http.StatusConflict:
		return ledger.Errorf(ledger.CodeConflict, "%s", msg)
	case status == http.StatusPaymentRequired:
		return ledger.Errorf(ledger.CodeInsufficientBalance, "%s", msg)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return ledger.Errorf(ledger.CodeInvalidAuthority, "%s", msg)
	default:
		return ledger.Errorf(ledger.CodeMalformed, "%s", msg)
	}
}

func observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case ledger.IsAmbiguous(err):
		result = "ambiguous"
	default:
		result = string(ledger.CodeOf(err))
		if result == "" {
			result = "error"
		}
	}
	metrics.LedgerCalls.WithLabelValues(op, result).Inc()
	if err != nil {
		slog.Debug("Gateway: ledger call failed", "operation", op, "result", result, "error", err)
	}
}

func id(v uint64) string {
	return strconv.FormatUint(v, 10)
}
