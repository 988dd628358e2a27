package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func sessionEventOf(t *testing.T, ev sseEvent) domain.SessionEvent {
	t.Helper()
	var out domain.SessionEvent
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &out))
	return out
}

func TestSessionSSE_PingAndClose(t *testing.T) {
	f := newKernelFixture(t, echoRunner, Options{Validate: true})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/sessions/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	scanner := bufio.NewScanner(resp.Body)

	first := readSSE(t, scanner, func(sseEvent) bool { return true })
	require.Equal(t, "endpoint", first[0].Event)
	endpoint := first[0].Data
	require.True(t, strings.HasPrefix(endpoint, "/v1/sessions/"))

	got := postJSON(t, srv.URL+endpoint, `{"id": "1", "method": "ping"}`)
	assert.Equal(t, http.StatusAccepted, got.StatusCode)

	events := readSSE(t, scanner, func(ev sseEvent) bool {
		return sessionEventOf(t, ev).Type == domain.SessionEventPong
	})
	pong := sessionEventOf(t, events[len(events)-1])
	assert.Equal(t, "1", pong.ReplyTo)

	got = postJSON(t, srv.URL+endpoint, `{"method": "close"}`)
	assert.Equal(t, http.StatusAccepted, got.StatusCode)

	events = readSSE(t, scanner, func(ev sseEvent) bool { return sessionEventOf(t, ev).Terminal })
	closed := sessionEventOf(t, events[len(events)-1])
	assert.Equal(t, domain.SessionEventClosed, closed.Type)

	require.Eventually(t, func() bool {
		return postJSON(t, srv.URL+endpoint, `{"method": "ping"}`).StatusCode == http.StatusNotFound
	}, 5*time.Second, 10*time.Millisecond, "a closed session is forgotten")
}

func TestSessionSSE_Research(t *testing.T) {
	f := newKernelFixture(t, echoRunner, Options{})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/sessions/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	endpoint := readSSE(t, scanner, func(sseEvent) bool { return true })[0].Data

	got := postJSON(t, srv.URL+endpoint, `{"id": "r1", "method": "research", "params": {"prompt": "explain X"}}`)
	require.Equal(t, http.StatusAccepted, got.StatusCode)

	events := readSSE(t, scanner, func(ev sseEvent) bool {
		return sessionEventOf(t, ev).Type == domain.SessionEventResult
	})
	types := make([]domain.SessionEventType, 0, len(events))
	for _, ev := range events {
		types = append(types, sessionEventOf(t, ev).Type)
	}
	assert.Equal(t, domain.SessionEventAccepted, types[0])

	result := sessionEventOf(t, events[len(events)-1])
	assert.Equal(t, "r1", result.ReplyTo)
	assert.Equal(t, "report: explain X", result.Message)
	assert.Equal(t, domain.JobStatusDone, result.Status)
}

func TestSessionMessage_Errors(t *testing.T) {
	f := newKernelFixture(t, echoRunner, Options{Validate: true})

	w := f.do(t, http.MethodPost, "/v1/sessions/unknown/messages", `{"method": "ping"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	sess, err := f.sessions.Open()
	require.NoError(t, err)
	w = f.do(t, http.MethodPost, "/v1/sessions/"+string(sess.ID)+"/messages", `{"id": "x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "method is required")
}

func TestSessionWS_RoundTrip(t *testing.T) {
	f := newKernelFixture(t, echoRunner, Options{Validate: true})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/sessions/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	next := func(match func(domain.SessionEvent) bool) domain.SessionEvent {
		for {
			var ev domain.SessionEvent
			require.NoError(t, wsjson.Read(ctx, conn, &ev))
			if match(ev) {
				return ev
			}
		}
	}

	require.NoError(t, wsjson.Write(ctx, conn, domain.SessionMessage{ID: "p", Method: domain.MethodPing}))
	pong := next(func(ev domain.SessionEvent) bool { return ev.Type == domain.SessionEventPong })
	assert.Equal(t, "p", pong.ReplyTo)

	require.NoError(t, wsjson.Write(ctx, conn, domain.SessionMessage{
		ID:     "r",
		Method: domain.MethodResearch,
		Params: json.RawMessage(`{"prompt": "over websocket", "mode": "quick"}`),
	}))
	result := next(func(ev domain.SessionEvent) bool { return ev.Type == domain.SessionEventResult })
	assert.Equal(t, "report: over websocket", result.Message)

	require.NoError(t, wsjson.Write(ctx, conn, domain.SessionMessage{Method: domain.MethodClose}))
	closed := next(func(ev domain.SessionEvent) bool { return ev.Terminal })
	assert.Equal(t, domain.SessionEventClosed, closed.Type)

	var ev domain.SessionEvent
	err = wsjson.Read(ctx, conn, &ev)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return f.sessions.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t,
		[]string{"localhost:5173", "example.com"},
		originPatterns([]string{"http://localhost:5173", " example.com ", ""}))
}
