package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/quizdeck/internal/cloud"
	"github.com/and161185/quizdeck/internal/convert"
	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/service"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeKeys struct{ err error }

func (f *fakeKeys) Check(_ context.Context, key, _ string) error {
	if f.err != nil {
		return f.err
	}
	if key != "secret" {
		return errs.ErrUnauthorized
	}
	return nil
}

// memBackend is an in-memory BackendService.
type memBackend struct {
	mu       sync.Mutex
	rows     convert.Rows
	byKey    map[string]model.Result
	order    []string
	lastBulk *convert.BulkPayload
	moved    []convert.ArchiveMove
	deleted  []convert.DeleteForever
	listErr  error
	panicOn  string
}

func (m *memBackend) writes() (*convert.BulkPayload, []convert.ArchiveMove, []convert.DeleteForever) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBulk, append([]convert.ArchiveMove(nil), m.moved...), append([]convert.DeleteForever(nil), m.deleted...)
}

var _ service.BackendService = (*memBackend)(nil)

func newMem() *memBackend {
	return &memBackend{
		rows:  convert.Rows{Decks: []convert.DeckRow{}, Cards: []convert.CardRow{}, Tests: []convert.TestRow{}},
		byKey: map[string]model.Result{},
	}
}

func (m *memBackend) List(context.Context) (convert.Rows, error) {
	if m.panicOn == "list" {
		panic("boom")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows, m.listErr
}
func (m *memBackend) Results(_ context.Context, limit int) ([]model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Result{}
	for _, k := range m.order {
		out = append(out, m.byKey[k])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (m *memBackend) Submit(_ context.Context, r model.Result) (convert.SubmitAck, error) {
	if err := errs.Validate(r); err != nil {
		return convert.SubmitAck{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byKey[r.IdempotencyKey]; dup {
		return convert.SubmitAck{ID: r.ID, Duplicate: true}, nil
	}
	m.byKey[r.IdempotencyKey] = r
	m.order = append(m.order, r.IdempotencyKey)
	return convert.SubmitAck{ID: r.ID}, nil
}
func (m *memBackend) Bulk(_ context.Context, p convert.BulkPayload) (convert.BulkAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBulk = &p
	m.rows = p.Rows()
	return convert.BulkAck{Decks: len(p.Decks), Cards: len(p.Cards), Tests: len(p.Tests), Results: len(p.Results)}, nil
}
func (m *memBackend) ArchiveMove(_ context.Context, a convert.ArchiveMove) error {
	if a.ID == "missing" {
		return errs.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moved = append(m.moved, a)
	return nil
}
func (m *memBackend) DeleteForever(_ context.Context, d convert.DeleteForever) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, d)
	return nil
}

func startServer(t *testing.T, mem *memBackend, keys service.KeyChecker, opts ...Option) (*httptest.Server, *Metrics) {
	t.Helper()
	m := NewMetrics()
	opts = append(opts, WithMetrics(m))
	srv := New(mem, keys, zaptest.NewLogger(t), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func newClient(t *testing.T, base, key string) *cloud.Client {
	t.Helper()
	c, err := cloud.New(base+"/exec", key, cloud.WithTimeout(2*time.Second), cloud.WithRetryDelay(time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	return c
}

func sampleResult() model.Result {
	return model.Result{
		ID: "r1", IdempotencyKey: "cl-1-abcd0001", ClientID: "cl", LearnerName: "Ann", Location: "North",
		Date: "2025-03-01", SubmittedAtEpoch: 1, TestName: "morning", Score: 50, CorrectCount: 1, TotalCount: 2,
		Answers: []model.Answer{{Question: "q | with pipe", CorrectAnswer: "a", ChosenAnswer: "(blank)"}},
		Status:  model.ResultActive,
	}
}

func TestServer_ClientRoundtrip(t *testing.T) {
	mem := newMem()
	ts, metrics := startServer(t, mem, &fakeKeys{})
	c := newClient(t, ts.URL, "secret")
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	ack, err := c.SubmitResult(ctx, sampleResult())
	require.NoError(t, err)
	require.False(t, ack.Duplicate)
	ack, err = c.SubmitResult(ctx, sampleResult())
	require.NoError(t, err)
	require.True(t, ack.Duplicate, "replayed idempotency key")

	got, err := c.Results(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []model.Result{sampleResult()}, got)

	snap := model.Snapshot{Catalog: model.Catalog{
		Decks: []model.Deck{{ID: "d1", ClassName: "Barista", DeckName: "Espresso", Tags: []string{"Basics"},
			Cards: []model.Card{{ID: "c1", Question: "q", CorrectAnswer: "a", Distractors: []string{"b"}, SubTag: "Basics"}}}},
		Tests: []model.Test{{ID: "t1", Name: "morning", Title: "Morning", QuestionCount: 5,
			Selections: []model.Selection{model.SubDecks("d1", "Basics")}}},
	}}
	bulk, err := c.BulkUpsert(ctx, snap, model.PushReplace)
	require.NoError(t, err)
	require.Equal(t, convert.BulkAck{Decks: 1, Cards: 1, Tests: 1}, bulk)
	lastBulk, _, _ := mem.writes()
	require.Equal(t, model.PushReplace, lastBulk.Mode)

	rows, err := c.List(ctx)
	require.NoError(t, err)
	require.Equal(t, "Espresso", rows.Decks[0].DeckName)
	require.Equal(t, []model.RawSelection{{DeckID: "d1", Subs: []string{"Basics"}}}, rows.Tests[0].Selections)

	require.NoError(t, c.ArchiveMove(ctx, "r1", model.ResultArchived))
	require.NoError(t, c.DeleteForever(ctx, "r1", model.ResultArchived))
	_, moved, deleted := mem.writes()
	require.Equal(t, []convert.ArchiveMove{{ID: "r1", To: model.ResultArchived}}, moved)
	require.Equal(t, model.ResultArchived, deleted[0].From)

	err = c.ArchiveMove(ctx, "missing", model.ResultActive)
	require.ErrorIs(t, err, errs.ErrRemote)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.submissions.WithLabelValues("stored")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.submissions.WithLabelValues("duplicate")))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.requests.WithLabelValues("submitresult", "200")))
}

func TestServer_BadKey(t *testing.T) {
	ts, _ := startServer(t, newMem(), &fakeKeys{})
	c := newClient(t, ts.URL, "wrong")

	_, err := c.List(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.NoError(t, c.Ping(context.Background()), "ping needs no key")
}

func TestServer_LockedOut(t *testing.T) {
	ts, _ := startServer(t, newMem(), &fakeKeys{err: errs.ErrRateLimited})
	c := newClient(t, ts.URL, "secret")

	_, err := c.List(context.Background())
	require.ErrorIs(t, err, errs.ErrRateLimited)
}

func getEnvelope(t *testing.T, resp *http.Response) convert.Envelope {
	t.Helper()
	defer resp.Body.Close()
	var env convert.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestServer_ActionErrors(t *testing.T) {
	ts, _ := startServer(t, newMem(), &fakeKeys{})

	tests := []struct {
		name   string
		method string
		query  string
		form   url.Values
		status int
		msg    string
	}{
		{"missing action", http.MethodGet, "key=secret", nil, http.StatusBadRequest, "missing action"},
		{"unknown action", http.MethodGet, "action=drop&key=secret", nil, http.StatusBadRequest, "unknown action"},
		{"write over GET", http.MethodGet, "action=submitresult&key=secret", nil, http.StatusMethodNotAllowed, "requires POST"},
		{"invalid result", http.MethodPost, "", url.Values{"action": {"submitresult"}, "key": {"secret"}, "id": {"r"}}, http.StatusBadRequest, "validation"},
		{"bad json field", http.MethodPost, "", url.Values{"action": {"submitresult"}, "key": {"secret"}, "answers": {"{"}}, http.StatusBadRequest, ""},
		{"no key", http.MethodGet, "action=list", nil, http.StatusUnauthorized, "bad key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				resp *http.Response
				err  error
			)
			if tt.method == http.MethodGet {
				resp, err = http.Get(ts.URL + "/exec?" + tt.query)
			} else {
				resp, err = http.PostForm(ts.URL+"/exec", tt.form)
			}
			require.NoError(t, err)
			require.Equal(t, tt.status, resp.StatusCode)
			env := getEnvelope(t, resp)
			require.False(t, env.OK)
			require.Contains(t, env.Error, tt.msg)
		})
	}
}

func TestServer_InternalErrorsHideDetail(t *testing.T) {
	mem := newMem()
	mem.listErr = errors.New("pq: connection refused to 10.0.0.5")
	ts, _ := startServer(t, mem, &fakeKeys{})

	resp, err := http.Get(ts.URL + "/?action=list&key=secret")
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "internal", getEnvelope(t, resp).Error)
}

func TestServer_RecoversPanic(t *testing.T) {
	mem := newMem()
	mem.panicOn = "list"
	ts, _ := startServer(t, mem, &fakeKeys{})

	resp, err := http.Get(ts.URL + "/?action=list&key=secret")
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.False(t, getEnvelope(t, resp).OK)

	resp, err = http.Get(ts.URL + "/?action=ping")
	require.NoError(t, err)
	require.True(t, getEnvelope(t, resp).OK, "server keeps serving")
}

func TestServer_HealthAndMetrics(t *testing.T) {
	var down atomic.Bool
	ts, _ := startServer(t, newMem(), &fakeKeys{}, WithHealth(func(context.Context) error {
		if down.Load() {
			return errors.New("db down")
		}
		return nil
	}))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, getEnvelope(t, resp).OK)

	down.Store(true)
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "quizdeck_requests_total")
}

func TestServer_CORSPreflight(t *testing.T) {
	ts, _ := startServer(t, newMem(), &fakeKeys{}, WithCORSOrigins("https://quiz.example"))

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/exec", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://quiz.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "https://quiz.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
