package ws

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/monitoring"
)

// transport writes session messages to one WebSocket connection. Writes are
// serialized; gorilla connections support a single concurrent writer.
type transport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	metrics      *monitoring.Metrics

	mu sync.Mutex
}

func newTransport(conn *websocket.Conn, writeTimeout time.Duration, metrics *monitoring.Metrics) *transport {
	return &transport{conn: conn, writeTimeout: writeTimeout, metrics: metrics}
}

// Send implements session.Transport. Each message is one text frame.
func (t *transport) Send(ctx context.Context, msgs []message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := message.Encode(m)
		if err != nil {
			return err
		}
		if err := t.write(websocket.TextMessage, data); err != nil {
			return err
		}
		if t.metrics != nil {
			t.metrics.RecordWSMessage("out", string(m.Kind))
		}
	}
	return nil
}

// sendError reports a rejected command to the client
func (t *transport) sendError(text string) error {
	data, err := sonic.Marshal(map[string]any{
		"type":      "error",
		"message":   text,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(websocket.TextMessage, data)
}

func (t *transport) ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *transport) close(code int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(t.writeTimeout),
	)
}

func (t *transport) write(kind int, data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(kind, data)
}
