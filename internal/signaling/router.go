package signaling

import (
	"errors"

	"go.uber.org/zap"

	"github.com/mossy-p/classroom-signaling/internal/metrics"
)

// RouteResult is the outcome of routing one message.
type RouteResult int

const (
	Delivered RouteResult = iota
	TargetNotFound
	SendFailed
)

func (r RouteResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case TargetNotFound:
		return "target_not_found"
	case SendFailed:
		return "send_failed"
	}
	return "unknown"
}

// Router forwards relayed messages to their target's session. It never looks
// inside the payload.
type Router struct {
	registry *Registry
	codec    Codec
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewRouter(registry *Registry, codec Codec, m *metrics.Metrics, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: registry,
		codec:    codec,
		metrics:  m,
		logger:   logger,
	}
}

// Route delivers msg to msg.Target tagged with senderID. Unknown targets are
// dropped without telling the sender.
func (r *Router) Route(senderID string, msg Message) RouteResult {
	fields := []zap.Field{
		zap.String("from", senderID),
		zap.String("target", msg.Target),
		zap.String("kind", string(msg.Kind)),
	}

	target, ok := r.registry.Lookup(msg.Target)
	if !ok || target.State() != StateOpen {
		r.metrics.Inc(metrics.TargetNotFound)
		r.logger.Info("dropping message for unknown target", fields...)
		return TargetNotFound
	}

	frame, err := r.codec.EncodeRelay(senderID, msg)
	if err != nil {
		r.metrics.Inc(metrics.SendFailed)
		r.logger.Error("failed to encode relay frame", append(fields, zap.Error(err))...)
		return SendFailed
	}

	if err := target.Send(frame); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			r.metrics.Inc(metrics.TargetNotFound)
			r.logger.Info("dropping message for closed target", fields...)
			return TargetNotFound
		}
		r.metrics.Inc(metrics.SendFailed)
		if errors.Is(err, ErrSendBufferFull) {
			r.metrics.Inc(metrics.SlowPeersClosed)
			r.logger.Warn("target not draining its queue, disconnected", fields...)
			return SendFailed
		}
		r.logger.Warn("failed to forward message", append(fields, zap.Error(err))...)
		return SendFailed
	}

	r.metrics.Inc(metrics.MessagesRouted)
	r.logger.Debug("forwarded message", fields...)
	return Delivered
}
