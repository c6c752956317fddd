package signaling

import (
	"context"

	"github.com/mira-screenshare/signalserver/internal/logging"
	"github.com/mira-screenshare/signalserver/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// ICEBroker proxies ice_servers requests to the external credential
// vendor. GetICEServers never errors outward: vendor failures and missing
// configuration both collapse to an empty list, per the ICE broker's
// contract.
type ICEBroker interface {
	GetICEServers(ctx context.Context) []IceServer
}

var tracer = otel.Tracer("signalling")

// Dispatcher applies the protocol to one decoded inbound message at a
// time. It holds no per-connection state; a single Dispatcher instance is
// shared by every connection task.
type Dispatcher struct {
	registry *Registry
	broker   ICEBroker
}

// NewDispatcher wires a Dispatcher to its registry and ICE broker.
func NewDispatcher(registry *Registry, broker ICEBroker) *Dispatcher {
	return &Dispatcher{registry: registry, broker: broker}
}

// Dispatch parses raw and applies the protocol for the connection that sent
// it. senderOutbox is that connection's own outbox (already created at
// connect time); sourceAddr identifies the connection for the
// sharer-source disconnect index. A parse failure or any other protocol
// error is logged and swallowed: no error from Dispatch should ever tear
// down the calling connection.
func (d *Dispatcher) Dispatch(ctx context.Context, senderOutbox *Outbox, raw []byte, sourceAddr string) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		logging.Warn(ctx, "dropping malformed message", zap.Error(err), zap.String("source", sourceAddr))
		return
	}

	ctx, span := tracer.Start(ctx, "signalling.dispatch."+string(env.Type))
	defer span.End()

	switch env.Type {
	case TypeStart:
		d.handleStart(ctx, senderOutbox, sourceAddr)
	case TypeJoin:
		d.handleJoin(ctx, senderOutbox, env, raw)
	case TypeOffer, TypeAnswer, TypeIce:
		d.forwardTo(ctx, env.Type, env.To, raw)
	case TypeJoinDeclined, TypeRoomClosed:
		d.forwardTo(ctx, env.Type, env.To, raw)
	case TypeLeave:
		d.handleLeave(ctx, env, raw)
	case TypeIceServers:
		d.handleIceServers(ctx, senderOutbox)
	case TypeKeepAlive, TypeStartResponse, TypeIceServersResponse:
		// No-op: clients should not normally send these, but they are
		// tolerated rather than treated as a protocol error.
		metrics.MessagesTotal.WithLabelValues(string(env.Type), "ok").Inc()
	default:
		logging.Warn(ctx, "dropping message of unknown type", zap.String("type", string(env.Type)))
	}
}

func (d *Dispatcher) handleStart(ctx context.Context, senderOutbox *Outbox, sourceAddr string) {
	var room string
	for attempt := 0; attempt < 3; attempt++ {
		candidate, err := GenerateRoomID()
		if err != nil {
			logging.Error(ctx, "failed to generate room id", zap.Error(err))
			metrics.MessagesTotal.WithLabelValues(string(TypeStart), "error").Inc()
			return
		}
		room = candidate
		if !d.registry.HasRoom(room) {
			break
		}
	}

	if _, err := d.registry.AddSharer(room, senderOutbox, sourceAddr); err != nil {
		logging.Warn(ctx, "start failed", zap.Error(err), zap.String("room", room))
		metrics.MessagesTotal.WithLabelValues(string(TypeStart), "error").Inc()
		return
	}

	logging.Info(ctx, "session started", zap.String("room", room))
	metrics.MessagesTotal.WithLabelValues(string(TypeStart), "ok").Inc()
	sendJSON(ctx, senderOutbox, NewStartResponse(room))
}

func (d *Dispatcher) handleJoin(ctx context.Context, senderOutbox *Outbox, env Envelope, raw []byte) {
	_, err := d.registry.AddViewer(env.From, env.Room, senderOutbox)
	if err != nil {
		reason := err.Error()
		logging.Warn(ctx, "join declined", zap.String("peer_id", env.From), zap.String("room", env.Room), zap.Error(err))
		metrics.MessagesTotal.WithLabelValues(string(TypeJoin), "declined").Inc()
		sendJSON(ctx, senderOutbox, NewJoinDeclined(env.From, reason))
		return
	}

	metrics.MessagesTotal.WithLabelValues(string(TypeJoin), "ok").Inc()
	d.forwardRaw(ctx, string(TypeJoin), env.Room, raw)
}

func (d *Dispatcher) forwardTo(ctx context.Context, msgType MessageType, to string, raw []byte) {
	if to == "" {
		logging.Warn(ctx, "dropping message with no target", zap.String("type", string(msgType)))
		metrics.MessagesTotal.WithLabelValues(string(msgType), "dropped").Inc()
		return
	}
	d.forwardRaw(ctx, string(msgType), to, raw)
}

func (d *Dispatcher) forwardRaw(ctx context.Context, msgType, to string, raw []byte) {
	outbox, err := d.registry.PeerOutbox(to)
	if err != nil {
		logging.Warn(ctx, "forward target unknown", zap.String("to", to), zap.Error(err))
		metrics.MessagesTotal.WithLabelValues(msgType, "dropped").Inc()
		return
	}
	if err := outbox.Send(raw); err != nil {
		logging.Warn(ctx, "forward target outbox closed", zap.String("to", to))
		metrics.MessagesTotal.WithLabelValues(msgType, "dropped").Inc()
		return
	}
	metrics.MessagesTotal.WithLabelValues(msgType, "ok").Inc()
}

func (d *Dispatcher) handleLeave(ctx context.Context, env Envelope, raw []byte) {
	counterparts, err := d.registry.CounterpartsOf(env.From)
	if err != nil {
		logging.Warn(ctx, "leave from unknown peer", zap.String("from", env.From))
		metrics.MessagesTotal.WithLabelValues(string(TypeLeave), "dropped").Inc()
		return
	}

	// Notify every counterpart before mutating the registry so the forward
	// never targets a peer this call is about to remove. A viewer's sole
	// counterpart is its sharer; a sharer's leave notifies every viewer.
	for _, to := range counterparts {
		d.forwardRaw(ctx, string(TypeLeave), to, raw)
	}

	if err := d.registry.Leave(env.From); err != nil {
		logging.Warn(ctx, "leave failed", zap.String("from", env.From), zap.Error(err))
		return
	}
	metrics.MessagesTotal.WithLabelValues(string(TypeLeave), "ok").Inc()
}

func (d *Dispatcher) handleIceServers(ctx context.Context, senderOutbox *Outbox) {
	servers := d.broker.GetICEServers(ctx)
	metrics.MessagesTotal.WithLabelValues(string(TypeIceServers), "ok").Inc()
	sendJSON(ctx, senderOutbox, NewIceServersResponse(servers))
}

func sendJSON(ctx context.Context, outbox *Outbox, v any) {
	raw, err := marshalJSON(v)
	if err != nil {
		logging.Error(ctx, "failed to marshal reply", zap.Error(err))
		return
	}
	if err := outbox.Send(raw); err != nil {
		logging.Warn(ctx, "reply outbox closed")
	}
}
