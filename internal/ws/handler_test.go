package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/script"
	"github.com/GriffinCanCode/scriptflow/internal/domain/session"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func counterSource() script.Source {
	return script.Func(func(env *script.Env) error {
		g := env.Run.Main()
		clicked, err := g.Button("add", nil)
		if err != nil {
			return err
		}
		if clicked {
			_, err = g.Text("clicked")
		} else {
			_, err = g.Text("idle")
		}
		return err
	})
}

type server struct {
	url     string
	manager *session.Manager
	metrics *monitoring.Metrics
}

func newServer(t *testing.T, cfg Config, mcfg session.ManagerConfig) *server {
	t.Helper()
	if mcfg.Source == nil {
		mcfg.Source = counterSource()
	}
	mcfg.FlushInterval = 5 * time.Millisecond
	mcfg.GracePeriod = time.Minute

	metrics := monitoring.NewMetrics()
	mcfg.Metrics = metrics
	manager := session.NewManager(context.Background(), mcfg)

	router := gin.New()
	router.GET("/stream", NewHandler(manager, cfg, nil, metrics).HandleConnection)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	return &server{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
		manager: manager,
		metrics: metrics,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil collects messages until one of the given kind arrives
func readUntil(t *testing.T, conn *websocket.Conn, kind message.Kind) []message.Message {
	t.Helper()
	var msgs []message.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		m, err := message.Decode(data)
		require.NoError(t, err)
		msgs = append(msgs, m)
		if m.Kind == kind {
			return msgs
		}
	}
}

func texts(msgs []message.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Kind == message.KindDelta && m.Delta.Element != nil && m.Delta.Element.Kind == "text" {
			out = append(out, m.Delta.Element.Props["body"].(string))
		}
	}
	return out
}

func TestHandleConnectionInitializesSession(t *testing.T) {
	s := newServer(t, Config{}, session.ManagerConfig{ServerVersion: "test"})
	conn := dial(t, s.url)

	msgs := readUntil(t, conn, message.KindRunFinished)
	require.NotEmpty(t, msgs)
	assert.Equal(t, message.KindInitialize, msgs[0].Kind)
	assert.Equal(t, "test", msgs[0].Initialize.ServerVersion)
	assert.Equal(t, []string{"idle"}, texts(msgs))
	assert.Equal(t, message.RunSuccess, msgs[len(msgs)-1].Status)

	assert.Equal(t, 1, s.manager.Count())
	assert.Equal(t, int64(1), s.metrics.Snapshot().ActiveConnections)
}

func TestRerunWithWidgetEdit(t *testing.T) {
	s := newServer(t, Config{}, session.ManagerConfig{})
	conn := dial(t, s.url)
	readUntil(t, conn, message.KindRunFinished)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "rerun_script",
		"widgets": map[string]any{"button:main:0:add": true},
	}))

	msgs := readUntil(t, conn, message.KindRunFinished)
	assert.Equal(t, []string{"clicked"}, texts(msgs))
}

func TestInvalidCommandReturnsError(t *testing.T) {
	s := newServer(t, Config{}, session.ManagerConfig{})
	conn := dial(t, s.url)
	readUntil(t, conn, message.KindRunFinished)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"launch_rockets"}`)))

	var reply map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
	assert.Contains(t, reply["message"], "unknown command")
}

func TestCommandRateLimit(t *testing.T) {
	s := newServer(t, Config{CommandRate: 0.001, CommandBurst: 1}, session.ManagerConfig{})
	conn := dial(t, s.url)
	readUntil(t, conn, message.KindRunFinished)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "set_run_on_save", "run_on_save": true}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "set_run_on_save", "run_on_save": false}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if strings.Contains(string(data), `"type":"error"`) {
			assert.Contains(t, string(data), "rate limit exceeded")
			return
		}
	}
}

func TestReconnectResumesSession(t *testing.T) {
	s := newServer(t, Config{}, session.ManagerConfig{})
	first := dial(t, s.url)
	msgs := readUntil(t, first, message.KindRunFinished)
	sid := msgs[0].Initialize.SessionID
	require.NotEmpty(t, sid)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		sess := s.manager.List()
		return len(sess) == 1 && !sess[0].Attached
	}, 3*time.Second, 10*time.Millisecond)

	second := dial(t, s.url+"?session="+sid)
	msgs = readUntil(t, second, message.KindRunFinished)
	assert.Equal(t, sid, msgs[0].Initialize.SessionID)
	assert.True(t, msgs[0].Initialize.Resumed)
	assert.Equal(t, 1, s.manager.Count())
}

func TestSessionLimitClosesConnection(t *testing.T) {
	s := newServer(t, Config{}, session.ManagerConfig{MaxSessions: 1})
	first := dial(t, s.url)
	readUntil(t, first, message.KindRunFinished)

	second := dial(t, s.url)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater))
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(nil, Config{AllowedOrigins: []string{"http://localhost:3000"}}, nil, nil)

	req := httptest.NewRequest("GET", "/stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, h.checkOrigin(req))

	open := NewHandler(nil, Config{}, nil, nil)
	assert.True(t, open.checkOrigin(req))
}

func TestShutdownClosesConnections(t *testing.T) {
	manager := session.NewManager(context.Background(), session.ManagerConfig{
		Source:        counterSource(),
		FlushInterval: 5 * time.Millisecond,
	})
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	h := NewHandler(manager, Config{}, nil, nil)
	router := gin.New()
	router.GET("/stream", h.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"

	conn := dial(t, url)
	readUntil(t, conn, message.KindRunFinished)

	h.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
			break
		}
	}

	late := dial(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}
