package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandlerFunc processes one decoded packet.
type HandlerFunc func(ctx context.Context, s *Session, pkt *Packet) error

// Router dispatches incoming packets to registered handlers by type.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRouter creates an empty Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// On registers fn for msgType, replacing any previous handler.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch decodes raw, enforces the monotonic seq and invokes the handler.
// A handler error is reported to the client as an "error" packet.
func (r *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet", zap.Int64("account_id", s.AccountID), zap.Error(err))
		s.Send(0, TypeError, errorPayload{Code: CodeBadRequest, Message: "malformed packet"})
		return
	}

	// Seq == 0 opts out of replay tracking.
	if pkt.Seq != 0 && pkt.Seq <= s.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.Int64("account_id", s.AccountID),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}
	if pkt.Seq != 0 {
		s.LastSeq = pkt.Seq
	}

	s.TraceID = uuid.NewString()
	ctx = context.WithValue(ctx, ctxKeyTraceID{}, s.TraceID)

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type",
			zap.String("type", pkt.Type),
			zap.Int64("account_id", s.AccountID))
		s.Send(pkt.Seq, TypeError, errorPayload{Code: CodeBadRequest, Message: "unknown type " + pkt.Type})
		return
	}

	if err := fn(ctx, s, &pkt); err != nil {
		code := errorCode(err)
		if code == CodeInternal {
			r.logger.Error("handler error",
				zap.String("type", pkt.Type),
				zap.Int64("account_id", s.AccountID),
				zap.String("trace_id", s.TraceID),
				zap.Error(err))
			s.Send(pkt.Seq, TypeError, errorPayload{Code: code, Message: "internal error"})
			return
		}
		s.Send(pkt.Seq, TypeError, errorPayload{Code: code, Message: err.Error()})
	}
}

type ctxKeyTraceID struct{}

// TraceIDFromCtx extracts the trace ID from a handler context.
func TraceIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return v
	}
	return ""
}
