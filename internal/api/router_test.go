package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/board"
	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/notify"
	"github.com/lalith-99/capyboard/internal/observ"
	"github.com/lalith-99/capyboard/internal/repository/memory"
	"github.com/lalith-99/capyboard/internal/slot"
	"github.com/lalith-99/capyboard/internal/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router *gin.Engine
	svc    *board.Service
	hub    *stream.Hub
}

func newTestEnv(t *testing.T, storeHealth func(context.Context) error) *testEnv {
	t.Helper()
	loc, err := slot.LoadLocation(slot.DefaultTimezone)
	require.NoError(t, err)
	now := time.Date(2026, 1, 15, 10, 30, 15, 0, loc)

	registry := prometheus.NewRegistry()
	metrics := observ.NewMetrics(registry)
	notifier, err := notify.New()
	require.NoError(t, err)

	svc, err := board.NewService(memory.NewStore(),
		board.WithLocation(loc),
		board.WithClock(func() time.Time { return now }),
		board.WithPublisher(notifier),
		board.WithMetrics(metrics),
	)
	require.NoError(t, err)

	hub := stream.NewHub(svc, time.Hour, zap.NewNop(), metrics)
	t.Cleanup(hub.Shutdown)

	router := NewRouter(RouterDeps{
		Board:       svc,
		Streamer:    hub,
		Counter:     hub,
		Gatherer:    registry,
		Logger:      zap.NewNop(),
		StoreHealth: storeHealth,
	})
	return &testEnv{router: router, svc: svc, hub: hub}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) models.MessageState {
	t.Helper()
	var state models.MessageState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	return state
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error, body.Code
}

func TestGetMessage(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/message", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), `"scheduledMessages":[]`)

	state := decodeState(t, w)
	assert.Equal(t, board.DefaultMessage, state.ActiveMessage)
	assert.Equal(t, "2026-01-15T10:30:00", state.UpdatedAt)
}

func TestRequestID_IsEchoed(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/message", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestSaveMessage(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPut, "/api/message", `{"message":"Hello","backgroundId":"beach"}`)
	require.Equal(t, http.StatusOK, w.Code)
	state := decodeState(t, w)
	assert.Equal(t, "Hello", state.ActiveMessage)
	assert.Equal(t, "beach", state.ActiveBackgroundID)

	for _, body := range []string{`{}`, `{"message":5}`, `not json`, `{"message":null}`} {
		w := env.do(http.MethodPut, "/api/message", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		_, code := decodeError(t, w)
		assert.Equal(t, board.CodeValidation, code, body)
	}
}

func TestScheduleMessage(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/message", `{"message":"Later","startAt":"2026-01-15T11:00"}`)
	require.Equal(t, http.StatusOK, w.Code)
	state := decodeState(t, w)
	require.Len(t, state.ScheduledMessages, 1)
	assert.Equal(t, "2026-01-15T11:00:00", state.ScheduledMessages[0].StartAt)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"same minute", `{"message":"Again","startAt":"2026-01-15T11:00:30"}`, http.StatusConflict, board.CodeSlotTaken},
		{"past", `{"message":"Old","startAt":"2026-01-15T09:00"}`, http.StatusBadRequest, board.CodePastTime},
		{"unparseable", `{"message":"?","startAt":"whenever"}`, http.StatusBadRequest, board.CodeInvalidTime},
		{"missing startAt", `{"message":"?"}`, http.StatusBadRequest, board.CodeValidation},
		{"empty startAt", `{"message":"?","startAt":""}`, http.StatusBadRequest, board.CodeValidation},
		{"missing message", `{"startAt":"2026-01-15T12:00"}`, http.StatusBadRequest, board.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/message", tt.body)
			assert.Equal(t, tt.status, w.Code)
			msg, code := decodeError(t, w)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, msg)
		})
	}

	// The rejected schedules left the first one untouched.
	w = env.do(http.MethodGet, "/api/message", "")
	require.Equal(t, http.StatusOK, w.Code)
	state = decodeState(t, w)
	require.Len(t, state.ScheduledMessages, 1)
	assert.Equal(t, "Later", state.ScheduledMessages[0].Message)
	assert.Equal(t, "2026-01-15T11:00:00", state.ScheduledMessages[0].ID)
}

func TestDeleteMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/message", `{"message":"Later","startAt":"2026-01-15T11:00"}`).Code)

	w := env.do(http.MethodDelete, "/api/message", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, code := decodeError(t, w)
	assert.Equal(t, board.CodeValidation, code)

	w = env.do(http.MethodDelete, "/api/message?id=nonsense", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeState(t, w).ScheduledMessages, 1)

	w = env.do(http.MethodDelete, "/api/message?id=2026-01-15T11:00:00", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeState(t, w).ScheduledMessages)
}

func TestBackgrounds(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/backgrounds", "")

	require.Equal(t, http.StatusOK, w.Code)
	var bgs []models.Background
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bgs))
	require.Len(t, bgs, 8)
	assert.Equal(t, "default", bgs[0].ID)
}

func TestHealth(t *testing.T) {
	w := newTestEnv(t, nil).do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","subscribers":0}`, w.Body.String())

	failing := func(context.Context) error { return errors.New("connection refused") }
	w = newTestEnv(t, failing).do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","subscribers":0}`, w.Body.String())
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(http.MethodPut, "/api/message", `{"message":"Hello"}`)

	w := env.do(http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `capyboard_mutations_total{op="edit",result="ok"} 1`)
}

// stubBoard fails every mutation with err.
type stubBoard struct {
	err error
}

func (b stubBoard) GetState(context.Context) models.MessageState { return models.MessageState{} }

func (b stubBoard) SetActiveMessage(context.Context, string, string) (models.MessageState, error) {
	return models.MessageState{}, b.err
}

func (b stubBoard) ScheduleMessage(context.Context, string, string, string) (models.MessageState, error) {
	return models.MessageState{}, b.err
}

func (b stubBoard) DeleteSchedule(context.Context, string) (models.MessageState, error) {
	return models.MessageState{}, b.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"storage", &board.Error{Code: board.CodeStorage, Message: "Unable to save message."}, http.StatusInternalServerError, board.CodeStorage},
		{"slot taken", board.ErrSlotTaken, http.StatusConflict, board.CodeSlotTaken},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, board.CodeStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(RouterDeps{Board: stubBoard{err: tt.err}, Logger: zap.NewNop()})
			req := httptest.NewRequest(http.MethodPut, "/api/message", bytes.NewBufferString(`{"message":"x"}`))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			_, code := decodeError(t, w)
			assert.Equal(t, tt.code, code)
		})
	}
}

func readDataFrame(t *testing.T, r *bufio.Reader) models.MessageState {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		payload, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var state models.MessageState
		require.NoError(t, json.Unmarshal([]byte(payload), &state))
		return state
	}
}

func TestSSE_PushesInitialStateAndUpdates(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/message/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, board.DefaultMessage, readDataFrame(t, reader).ActiveMessage)
	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	_, err = env.svc.SetActiveMessage(context.Background(), "Pushed", "fire")
	require.NoError(t, err)

	state := readDataFrame(t, reader)
	assert.Equal(t, "Pushed", state.ActiveMessage)
	assert.Equal(t, "fire", state.ActiveBackgroundID)
}

func TestWebSocket_PushesState(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/message/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var state models.MessageState
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, board.DefaultMessage, state.ActiveMessage)

	_, err = env.svc.SetActiveMessage(context.Background(), "Over the wire", "")
	require.NoError(t, err)
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, "Over the wire", state.ActiveMessage)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
