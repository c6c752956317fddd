package transport

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mira-screenshare/signalserver/internal/logging"
	"github.com/mira-screenshare/signalserver/internal/metrics"
	"github.com/mira-screenshare/signalserver/internal/signaling"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// wsConn is the subset of *websocket.Conn a connection needs, narrowed so
// tests can substitute a fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// connection ties one WebSocket socket to its outbox and drives the
// dispatcher on inbound frames. Apart from the OnDisconnect call made when
// the socket closes, all registry access happens through the dispatcher.
type connection struct {
	conn          wsConn
	dispatcher    *signaling.Dispatcher
	registry      *signaling.Registry
	outbox        *signaling.Outbox
	sourceAddr    string
	hashedIP      string
	correlationID string
}

func newConnection(conn wsConn, dispatcher *signaling.Dispatcher, registry *signaling.Registry, ipSalt []byte) *connection {
	sourceAddr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(sourceAddr)
	if err != nil {
		host = sourceAddr
	}
	return &connection{
		conn:          conn,
		dispatcher:    dispatcher,
		registry:      registry,
		outbox:        signaling.NewOutbox(),
		sourceAddr:    sourceAddr,
		hashedIP:      HashIP(net.ParseIP(host), ipSalt),
		correlationID: uuid.New().String(),
	}
}

// serve runs the connection's read and write pumps, blocking until the
// socket closes. Call from its own goroutine per accepted connection. The
// correlation id generated at accept time is threaded through ctx for the
// lifetime of the connection, so every dispatch log line across every
// message on this socket carries the same id.
func (c *connection) serve(ctx context.Context) {
	ctx = context.WithValue(ctx, logging.CorrelationIDKey, c.correlationID)

	metrics.IncConnection(c.hashedIP)
	defer metrics.DecConnection(c.hashedIP)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(ctx)
	}()

	c.readPump(ctx)
	c.outbox.Close()
	<-done

	c.registry.OnDisconnect(c.sourceAddr)
	c.conn.Close()
}

func (c *connection) readPump(ctx context.Context) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.dispatcher.Dispatch(ctx, c.outbox, data, c.sourceAddr)
	}
}

func (c *connection) writePump(ctx context.Context) {
	for message := range c.outbox.Messages() {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Warn(ctx, "error writing to websocket", zap.Error(err), zap.String("source_addr", c.sourceAddr))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
