package httpapi_test

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/httpapi"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/anomaly"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/plugin"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/service"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store/memory"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

var t0 = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

const session = "2026-08-29"

type env struct {
	handler http.Handler
	events  *memory.EventStore
}

func newEnv(t *testing.T, opts ...func(*httpapi.Dependencies)) *env {
	t.Helper()

	logger := log.New(bytes.NewBuffer(nil), "", 0)
	topo := flow.DefaultTopology()
	events := memory.NewEventStore(topo)
	cards := memory.NewCardStore()
	stations := memory.NewStationStore()
	plugins := plugin.NewRegistry(logger)

	taps := service.NewTapService(
		events, cards, service.NewStationRegistry(stations), plugins,
		service.StaticRouter(flow.StageQueueJoin), topo,
		service.TapPolicy{SessionID: session, StationID: "station-entry"},
		logger,
	)
	taps.Now = func() time.Time { return t0 }
	corrections := service.NewCorrectionService(events, topo, plugins, session, "station-entry", logger)
	corrections.Now = func() time.Time { return t0 }

	d := httpapi.Dependencies{
		Logger:      logger,
		StationID:   "station-entry",
		SessionID:   session,
		TapService:  taps,
		Corrections: corrections,
		Scanner:     anomaly.NewScanner(events, topo, anomaly.DefaultConfig()),
		Stats:       service.NewStatsService(events, topo, plugins),
		Events:      events,
		Plugins:     plugins,
	}
	for _, o := range opts {
		o(&d)
	}

	return &env{handler: httpapi.NewServer(d).Handler(), events: events}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestTapEndpoint(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/tap", `{"token_id":"042","stage":"QUEUE_JOIN"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	out := decode[types.TapOutcome](t, w)
	if !out.Accepted || out.Feedback != types.FeedbackSuccess {
		t.Fatalf("expected accepted tap, got %+v", out)
	}
	if out.EventID == 0 || out.ServerTime == "" {
		t.Errorf("response missing event id or server time: %+v", out)
	}
}

func TestTapEndpoint_HardwareStyleUIDOnly(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/tap", `{"uid":"04A2F9C1B2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	out := decode[types.TapOutcome](t, w)
	if out.TokenID != "001" || out.Stage != flow.StageQueueJoin {
		t.Errorf("expected auto-init routing onto the station stage, got %+v", out)
	}
}

func TestTapEndpoint_BadRequests(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name, body string
		wantCode   string
	}{
		{"malformed json", `{"token_id":`, "bad_json"},
		{"unknown field", `{"token":"042"}`, "bad_json"},
		{"unknown stage", `{"token_id":"042","stage":"LUNCH"}`, "invalid_tap"},
		{"empty", `{}`, "invalid_tap"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/v1/tap", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status %d: %s", w.Code, w.Body.String())
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Error.Code != tc.wantCode {
				t.Errorf("error code = %s, want %s", body.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/v1/tap", `{"token_id":"042","stage":"QUEUE_JOIN"}`)

	w := e.do(t, http.MethodGet, "/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	h := decode[types.HealthResponse](t, w)
	if h.Status != "ok" || h.DeviceID != "station-entry" {
		t.Errorf("unexpected health payload: %+v", h)
	}
	if h.TotalEvents != 1 {
		t.Errorf("total events = %d, want 1", h.TotalEvents)
	}
}

func TestManualAndRemoveEndpoints(t *testing.T) {
	e := newEnv(t)

	body := `{"token_id":"045","stage":"QUEUE_JOIN","timestamp":"` +
		t0.Add(-10*time.Minute).Format(time.RFC3339) +
		`","operator_id":"op-7","reason":"card reader was down"}`
	w := e.do(t, http.MethodPost, "/v1/manual-event", body)
	if w.Code != http.StatusOK {
		t.Fatalf("manual-event status %d: %s", w.Code, w.Body.String())
	}
	manual := decode[types.ManualEventResponse](t, w)
	if !manual.Success || manual.EventID == 0 {
		t.Fatalf("expected manual insert, got %+v", manual)
	}

	w = e.do(t, http.MethodPost, "/v1/remove-event",
		`{"event_id":`+jsonInt(manual.EventID)+`,"operator_id":"op-7","reason":"wrong card"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("remove-event status %d: %s", w.Code, w.Body.String())
	}
	removed := decode[types.RemoveEventResponse](t, w)
	if !removed.Success || removed.RemovedEvent == nil || removed.RemovedEvent.TokenID != "045" {
		t.Fatalf("expected removed event echo, got %+v", removed)
	}
}

func TestManualEndpoint_ValidationFailure(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/manual-event",
		`{"token_id":"045","stage":"QUEUE_JOIN","timestamp":"`+t0.Format(time.RFC3339)+`","operator_id":"op-7","reason":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestRemoveEndpoint_NotFound(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/remove-event",
		`{"event_id":99,"operator_id":"op-7","reason":"wrong card"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestAnomaliesEndpoint(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/v1/tap", `{"token_id":"042","stage":"QUEUE_JOIN"}`)

	w := e.do(t, http.MethodGet, "/v1/anomalies", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	report := decode[types.AnomaliesResponse](t, w)
	if report.SessionID != session {
		t.Errorf("session = %s, want %s", report.SessionID, session)
	}
}

func TestStatsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/v1/tap", `{"token_id":"042","stage":"QUEUE_JOIN"}`)
	e.do(t, http.MethodPost, "/v1/tap", `{"token_id":"042","stage":"EXIT"}`)

	w := e.do(t, http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	stats := decode[types.DashboardStats](t, w)
	if stats.TotalEvents != 2 || stats.CompletedJourneys != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestWriteRateLimit(t *testing.T) {
	e := newEnv(t, func(d *httpapi.Dependencies) { d.WriteRatePerMin = 2 })

	body := func(i int) string {
		return `{"event_id":` + jsonInt(int64(i)) + `,"operator_id":"op","reason":"r"}`
	}

	var limited bool
	for i := 1; i <= 10; i++ {
		w := e.do(t, http.MethodPost, "/v1/remove-event", body(i))
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("expected a 429 once the per-caller write budget ran out")
	}
}

func TestTapEndpoint_NotRateLimited(t *testing.T) {
	// The tap path carries the live hardware flow and must never throttle.
	e := newEnv(t, func(d *httpapi.Dependencies) { d.WriteRatePerMin = 1 })

	for i := 0; i < 20; i++ {
		w := e.do(t, http.MethodPost, "/v1/tap", `{"uid":"04A2F9C1B2"}`)
		if w.Code == http.StatusTooManyRequests {
			t.Fatal("tap endpoint must not be rate limited")
		}
	}
}

func TestPluginRoutesMountedUnderExtPrefix(t *testing.T) {
	called := false
	p := &routePlugin{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})}

	e := newEnv(t, func(d *httpapi.Dependencies) {
		if err := d.Plugins.Register(p); err != nil {
			t.Fatal(err)
		}
	})

	w := e.do(t, http.MethodGet, "/v1/ext/escalation/summary", "")
	if w.Code != http.StatusOK || !called {
		t.Fatalf("expected plugin route to serve, status %d called=%v", w.Code, called)
	}
}

type routePlugin struct {
	handler http.Handler
}

func (p *routePlugin) Name() string                       { return "escalation" }
func (p *routePlugin) Order() int                         { return 0 }
func (p *routePlugin) Capabilities() plugin.CapabilitySet { return plugin.CapRoutes }
func (p *routePlugin) OnAPIRoutes(reg plugin.Registrar) error {
	reg.Handle("escalation/summary", p.handler)
	return nil
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
