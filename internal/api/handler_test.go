package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/liasse-counter/internal/counter"
	"github.com/eugenenazirov/liasse-counter/internal/liasse"
	"github.com/eugenenazirov/liasse-counter/internal/storage"
)

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTestRouter(t *testing.T) (http.Handler, *controllableClock) {
	t.Helper()

	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	logger := zaptest.NewLogger(t)

	svc, err := counter.New(storage.NewMemoryStorage(), liasse.DefaultTarget, logger, counter.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("counter.New returned error: %v", err)
	}
	handler := NewHandler(svc, WithClock(clock.Now), WithLogger(logger))
	router := NewRouter(handler, logger, WithLogging(false), WithRateLimit(0, 0))

	return router, clock
}

type snapshotBody struct {
	Denomination string          `json:"denomination"`
	Target       int             `json:"target"`
	Piles        []liasse.Pile   `json:"piles"`
	Instructions []liasse.Bundle `json:"instructions"`
	Completed    []liasse.Bundle `json:"completed"`
	Summary      liasse.Summary  `json:"summary"`
}

func doJSON(t *testing.T, router http.Handler, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) snapshotBody {
	t.Helper()

	var body snapshotBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func seedPiles(t *testing.T, router http.Handler, denomination string, piles []int) {
	t.Helper()

	rec := doJSON(t, router, http.MethodPut, "/api/denominations/"+denomination+"/piles", map[string]any{"piles": piles})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 when seeding piles, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router, clock := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", clock.Now(), body.Timestamp)
	}
}

func TestSnapshotOfEmptyDenomination(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/denominations/eur-50", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := decodeSnapshot(t, rec)
	if body.Denomination != "eur-50" || body.Target != liasse.DefaultTarget {
		t.Fatalf("unexpected snapshot header: %+v", body)
	}
	if len(body.Piles) != 0 || len(body.Instructions) != 0 || len(body.Completed) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", body)
	}
}

func TestAddPileEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	for _, amount := range []int{58, 36, 74, 38, 14} {
		rec := doJSON(t, router, http.MethodPost, "/api/denominations/eur-50/piles", map[string]any{"amount": amount})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", rec.Code)
		}
	}

	body := decodeSnapshot(t, doJSON(t, router, http.MethodGet, "/api/denominations/eur-50", nil))
	if len(body.Instructions) != 3 {
		t.Fatalf("expected 3 instructions, got %d", len(body.Instructions))
	}
	first := body.Instructions[0]
	if first.Steps[0].Index != 2 || first.Total != 100 || !first.IsComplete {
		t.Fatalf("unexpected first bundle: %+v", first)
	}
	if body.Summary.CompleteBundles != 2 || body.Summary.RemainderUnits != 20 {
		t.Fatalf("unexpected summary: %+v", body.Summary)
	}
}

func TestAddPileRejectsInvalidInput(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name   string
		target string
		body   any
		want   int
	}{
		{name: "ZeroAmount", target: "/api/denominations/eur-50/piles", body: map[string]any{"amount": 0}, want: http.StatusBadRequest},
		{name: "NotJSON", target: "/api/denominations/eur-50/piles", body: "nope", want: http.StatusBadRequest},
		{name: "BadDenomination", target: "/api/denominations/bad%20key/piles", body: map[string]any{"amount": 5}, want: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, tc.target, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSetPilesRequiresArray(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodPut, "/api/denominations/eur-50/piles", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPut, "/api/denominations/eur-50/piles", map[string]any{"piles": []int{5, -1}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for negative pile, got %d", rec.Code)
	}
}

func TestCompleteAndUndoEndpoints(t *testing.T) {
	router, clock := setupTestRouter(t)
	seedPiles(t, router, "eur-50", []int{58, 36, 74, 38, 14})

	rec := doJSON(t, router, http.MethodPost, "/api/denominations/eur-50/bundles/1/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeSnapshot(t, rec)
	if len(body.Completed) != 1 {
		t.Fatalf("expected 1 completed bundle, got %d", len(body.Completed))
	}
	stamp := body.Completed[0].Timestamp
	if stamp != clock.Now().UnixMilli() {
		t.Fatalf("expected timestamp %d, got %d", clock.Now().UnixMilli(), stamp)
	}
	if body.Summary.TotalUnits != 120 {
		t.Fatalf("expected 120 units left, got %d", body.Summary.TotalUnits)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/denominations/eur-50/completed/"+strconv.FormatInt(stamp, 10), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body = decodeSnapshot(t, rec)
	if len(body.Completed) != 0 || body.Summary.TotalUnits != 220 {
		t.Fatalf("expected undo to restore piles, got %+v", body)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/denominations/eur-50/completed/"+strconv.FormatInt(stamp, 10), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for second undo, got %d", rec.Code)
	}
}

func TestCompleteEndpointErrors(t *testing.T) {
	router, _ := setupTestRouter(t)
	seedPiles(t, router, "eur-50", []int{100, 50})

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{name: "IncompleteBundle", target: "/api/denominations/eur-50/bundles/2/complete", want: http.StatusUnprocessableEntity},
		{name: "UnknownBundle", target: "/api/denominations/eur-50/bundles/7/complete", want: http.StatusNotFound},
		{name: "BadNumber", target: "/api/denominations/eur-50/bundles/zero/complete", want: http.StatusBadRequest},
		{name: "BadTarget", target: "/api/denominations/eur-50/bundles/1/complete?target=-5", want: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, tc.target, nil)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	var body struct {
		Suggestion string `json:"suggestion"`
	}
	rec := doJSON(t, router, http.MethodPost, "/api/denominations/eur-50/bundles/2/complete", nil)
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Suggestion == "" {
		t.Fatalf("expected suggestion to be populated")
	}
}

func TestCompleteErrorWording(t *testing.T) {
	router, _ := setupTestRouter(t)
	seedPiles(t, router, "eur-50", []int{250})

	type errorBody struct {
		Error      string `json:"error"`
		Suggestion string `json:"suggestion"`
	}
	decode := func(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
		t.Helper()
		var body errorBody
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		return body
	}

	t.Run("OutOfOrderIsStale", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/denominations/eur-50/bundles/2/complete", nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decode(t, rec)
		if body.Error != "Stale instruction" || body.Suggestion == "" {
			t.Fatalf("unexpected stale response: %+v", body)
		}
	})

	t.Run("IncompleteSuggestsMoreUnits", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/denominations/eur-50/bundles/3/complete", nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rec.Code, rec.Body.String())
		}
		if body := decode(t, rec); body.Suggestion != "Add more units before completing this bundle" {
			t.Fatalf("unexpected suggestion %q", body.Suggestion)
		}
	})
}

func TestSetPilesRejectsUnitOverflow(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodPut, "/api/denominations/eur-50/piles",
		map[string]any{"piles": []int{math.MaxInt, 2}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/denominations/eur-50", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected denomination to stay readable, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeSnapshot(t, rec); body.Summary.TotalUnits != 0 {
		t.Fatalf("expected nothing stored, got %+v", body.Summary)
	}
}

func TestCompleteWithCustomTarget(t *testing.T) {
	router, _ := setupTestRouter(t)
	seedPiles(t, router, "eur-50", []int{7, 3, 5})

	rec := doJSON(t, router, http.MethodPost, "/api/denominations/eur-50/bundles/1/complete?target=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeSnapshot(t, rec)
	if body.Target != 10 || body.Summary.TotalUnits != 5 {
		t.Fatalf("unexpected snapshot: %+v", body)
	}
}

func TestRemovePileEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)
	seedPiles(t, router, "eur-50", []int{10, 20, 30})

	rec := doJSON(t, router, http.MethodDelete, "/api/denominations/eur-50/piles/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := decodeSnapshot(t, rec)
	want := []liasse.Pile{{Index: 0, Amount: 10}, {Index: 2, Amount: 30}}
	if len(body.Piles) != len(want) || body.Piles[0] != want[0] || body.Piles[1] != want[1] {
		t.Fatalf("expected piles %v, got %v", want, body.Piles)
	}

	if rec := doJSON(t, router, http.MethodDelete, "/api/denominations/eur-50/piles/9", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodDelete, "/api/denominations/eur-50/piles/x", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestResetAndListDenominations(t *testing.T) {
	router, _ := setupTestRouter(t)
	seedPiles(t, router, "usd-20", []int{100})
	seedPiles(t, router, "eur-50", []int{100})

	rec := doJSON(t, router, http.MethodDelete, "/api/denominations/eur-50", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := decodeSnapshot(t, rec); len(body.Piles) != 0 {
		t.Fatalf("expected reset to clear piles, got %v", body.Piles)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/denominations", nil)
	var body struct {
		Denominations []string `json:"denominations"`
		Target        int      `json:"target"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Denominations) != 2 || body.Denominations[0] != "eur-50" || body.Target != liasse.DefaultTarget {
		t.Fatalf("unexpected denominations response: %+v", body)
	}
}

func TestSnapshotRejectsInvalidTarget(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/denominations/eur-50?target=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestCorsPreflight(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/denominations/eur-50/piles", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected X-Request-ID header to be echoed, got %s", got)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/health", nil)
	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("expected generated UUID request id, got %q", got)
	}
}
