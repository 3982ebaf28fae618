package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 64
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Packet is the WS message envelope in both directions. Replies echo the
// request's Seq.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session is one signed-in WebSocket connection.
type Session struct {
	AccountID int64
	Conn      *websocket.Conn
	SendChan  chan []byte
	Done      chan struct{}
	TraceID   string
	LastSeq   uint64

	logger    *zap.Logger
	closeOnce sync.Once
}

// NewSession creates a Session and starts its write goroutine.
func NewSession(accountID int64, conn *websocket.Conn, logger *zap.Logger) *Session {
	s := &Session{
		AccountID: accountID,
		Conn:      conn,
		SendChan:  make(chan []byte, sendChanBuf),
		Done:      make(chan struct{}),
		logger:    logger,
	}
	go s.writePump()
	return s
}

// writePump drains SendChan onto the connection and pings periodically so
// dead peers are noticed by the read deadline.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error", zap.Int64("account_id", s.AccountID), zap.Error(err))
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes a packet and queues it. Drops it if the queue is full or the
// session is closed.
func (s *Session) Send(seq uint64, msgType string, payload interface{}) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("ws encode payload", zap.String("type", msgType), zap.Error(err))
			return
		}
		raw = b
	}
	data, err := json.Marshal(Packet{Seq: seq, Type: msgType, Payload: raw})
	if err != nil {
		return
	}
	s.SendRaw(data)
}

// SendRaw queues already encoded bytes.
func (s *Session) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		s.logger.Warn("send channel full, dropping packet", zap.Int64("account_id", s.AccountID))
	}
}

// Close signals the writePump to shut down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.Done) })
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SetReadDeadline pushes the read deadline forward.
func (s *Session) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadline))
}
