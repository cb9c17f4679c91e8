// Package cloud is the HTTP client of the quizdeck backend contract: GETs
// carry action and key in the query, POSTs are urlencoded forms, and every
// response is an {ok, data} | {ok:false, error} envelope.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/and161185/quizdeck/internal/convert"
	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/model"
)

// Defaults.
const (
	DefaultTimeout    = 8 * time.Second
	DefaultRetryDelay = 250 * time.Millisecond
	DefaultJitter     = 250 * time.Millisecond
	maxBody           = 32 << 20
)

// Client talks to one backend endpoint.
type Client struct {
	base       *url.URL
	key        string
	hc         *http.Client
	log        *zap.Logger
	timeout    time.Duration
	retryDelay time.Duration
	jitter     time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithTimeout bounds each network attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetryDelay sets the pause before the single transport retry and its
// maximum jitter.
func WithRetryDelay(delay, jitter time.Duration) Option {
	return func(c *Client) {
		if delay > 0 {
			c.retryDelay = delay
		}
		if jitter > 0 {
			c.jitter = jitter
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// New builds a client for baseURL authenticating with apiKey.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:       u,
		key:        apiKey,
		hc:         &http.Client{},
		log:        zap.NewNop(),
		timeout:    DefaultTimeout,
		retryDelay: DefaultRetryDelay,
		jitter:     DefaultJitter,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// --- read actions ---

// List fetches the denormalized catalog rows.
func (c *Client) List(ctx context.Context) (convert.Rows, error) {
	var rows convert.Rows
	err := c.get(ctx, url.Values{"action": {convert.ActionList}}, &rows)
	return rows, err
}

// Results fetches up to limit result rows.
func (c *Client) Results(ctx context.Context, limit int) ([]model.Result, error) {
	q := url.Values{"action": {convert.ActionResults}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []model.Result
	err := c.get(ctx, q, &out)
	return out, err
}

// Ping reports whether the backend answers HTTP at all. Any response,
// including an error envelope, counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(url.Values{"action": {"ping"}}), nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	_ = resp.Body.Close()
	return nil
}

// --- write actions ---

// SubmitResult posts one result. Replays of the same idempotency key are
// acknowledged with Duplicate set.
func (c *Client) SubmitResult(ctx context.Context, r model.Result) (convert.SubmitAck, error) {
	var ack convert.SubmitAck
	err := c.post(ctx, string(model.ActionSubmitResult), r, &ack)
	return ack, err
}

// BulkUpsert pushes a full snapshot.
func (c *Client) BulkUpsert(ctx context.Context, s model.Snapshot, mode model.PushMode) (convert.BulkAck, error) {
	var ack convert.BulkAck
	err := c.post(ctx, string(model.ActionBulkUpsert), convert.NewBulkPayload(s, mode), &ack)
	return ack, err
}

// ArchiveMove moves a result between the active and archived sets.
func (c *Client) ArchiveMove(ctx context.Context, id string, to model.ResultStatus) error {
	return c.post(ctx, string(model.ActionArchiveMove), convert.ArchiveMove{ID: id, To: to}, nil)
}

// DeleteForever removes a result from the given set.
func (c *Client) DeleteForever(ctx context.Context, id string, from model.ResultStatus) error {
	return c.post(ctx, string(model.ActionDeleteForever), convert.DeleteForever{ID: id, From: from}, nil)
}

// Send delivers a queued outbox item, dispatching on its action.
func (c *Client) Send(ctx context.Context, it model.OutboxItem) error {
	switch it.Action {
	case model.ActionSubmitResult:
		var r model.Result
		if err := json.Unmarshal(it.Payload, &r); err != nil {
			return fmt.Errorf("decode %s payload: %w", it.Action, err)
		}
		ack, err := c.SubmitResult(ctx, r)
		if err == nil && ack.Duplicate {
			c.log.Debug("result already stored remotely", zap.String("id", r.ID))
		}
		return err
	case model.ActionBulkUpsert:
		var p convert.BulkPayload
		if err := json.Unmarshal(it.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", it.Action, err)
		}
		return c.post(ctx, string(it.Action), p, nil)
	case model.ActionArchiveMove:
		var m convert.ArchiveMove
		if err := json.Unmarshal(it.Payload, &m); err != nil {
			return fmt.Errorf("decode %s payload: %w", it.Action, err)
		}
		return c.ArchiveMove(ctx, m.ID, m.To)
	case model.ActionDeleteForever:
		var d convert.DeleteForever
		if err := json.Unmarshal(it.Payload, &d); err != nil {
			return fmt.Errorf("decode %s payload: %w", it.Action, err)
		}
		return c.DeleteForever(ctx, d.ID, d.From)
	default:
		return fmt.Errorf("unknown outbox action %q", it.Action)
	}
}

// --- transport ---

func (c *Client) endpoint(q url.Values) string {
	u := *c.base
	merged := u.Query()
	for k, vs := range q {
		merged[k] = vs
	}
	merged.Set("key", c.key)
	u.RawQuery = merged.Encode()
	return u.String()
}

func (c *Client) get(ctx context.Context, q url.Values, out any) error {
	action := q.Get("action")
	target := c.endpoint(q)
	return c.do(ctx, action, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}, out)
}

func (c *Client) post(ctx context.Context, action string, body any, out any) error {
	form, err := convert.ToForm(body)
	if err != nil {
		return err
	}
	form.Set("action", action)
	form.Set("key", c.key)
	encoded := form.Encode()
	target := c.base.String()
	return c.do(ctx, action, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, out)
}

// do runs one request with a per-attempt timeout and at most one retry for
// transport failures and 5xx answers.
func (c *Client) do(ctx context.Context, action string, build func(context.Context) (*http.Request, error), out any) error {
	backoff := retry.WithMaxRetries(1, retry.WithJitter(c.jitter, retry.NewConstant(c.retryDelay)))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.attempt(ctx, build, out)
		if err == nil {
			return nil
		}
		var rerr *retryable
		if errors.As(err, &rerr) {
			c.log.Debug("backend attempt failed",
				zap.String("action", action),
				zap.Int("attempt", attempt),
				zap.Error(rerr.err),
			)
			return retry.RetryableError(rerr.err)
		}
		return err
	})
}

type retryable struct{ err error }

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

func (c *Client) attempt(ctx context.Context, build func(context.Context) (*http.Request, error), out any) error {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := build(actx)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = redact(req.URL)
		}
		return &retryable{fmt.Errorf("%s: %w", req.Method, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &retryable{fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", resp.Status, errs.ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", resp.Status, errs.ErrRateLimited)
	case resp.StatusCode >= 500:
		return &retryable{fmt.Errorf("%s: %w", resp.Status, errs.ErrRemote)}
	case resp.StatusCode >= 300:
		if msg := envelopeError(body); msg != "" {
			return fmt.Errorf("%s: %s: %w", resp.Status, msg, errs.ErrRemote)
		}
		return fmt.Errorf("%s: %w", resp.Status, errs.ErrRemote)
	}

	return decodeEnvelope(body, out)
}

// decodeEnvelope accepts either an {ok,data} envelope or raw data.
func decodeEnvelope(body []byte, out any) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err == nil {
		if _, has := probe["ok"]; has {
			var env convert.Envelope
			if err := json.Unmarshal(body, &env); err != nil {
				return fmt.Errorf("decode envelope: %w", err)
			}
			if !env.OK {
				msg := env.Error
				if msg == "" {
					msg = "server error"
				}
				return fmt.Errorf("%s: %w", msg, errs.ErrRemote)
			}
			body = env.Data
		}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// envelopeError extracts the error text of an error envelope, if any.
func envelopeError(body []byte) string {
	var env convert.Envelope
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	return env.Error
}

func redact(u *url.URL) string {
	cp := *u
	q := cp.Query()
	if q.Has("key") {
		q.Set("key", "***")
		cp.RawQuery = q.Encode()
	}
	return cp.String()
}
