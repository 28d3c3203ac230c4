// internal/channel/handler.go
// Acknowledging session handler

package channel

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/aspnmy/mirapipe/pkg/logger"
)

// DefaultAck is the reply AckHandler sends for every message
const DefaultAck = "Message received"

// AckHandler logs every message a client sends and answers each with Reply
type AckHandler struct {
	MaxMessage int    // read size, DefaultMaxMessage when zero
	Reply      []byte // DefaultAck when nil

	// OnMessage, if set, is called with every received payload
	OnMessage func(peer string, payload []byte)
}

// ServeSession reads until the client closes the stream
func (h *AckHandler) ServeSession(ctx context.Context, s *Session) {
	log := logger.Named("channel.handler").With(
		zap.String("remote", s.RemoteAddr().String()),
		zap.String("peer", s.PeerCommonName()),
	)

	reply := h.Reply
	if reply == nil {
		reply = []byte(DefaultAck)
	}

	for {
		payload, err := s.Receive(ctx, h.MaxMessage)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrSessionClosed) {
				log.Warn("Receive failed", zap.Error(err))
			}
			return
		}

		log.Info("Received message", zap.ByteString("message", payload))
		if h.OnMessage != nil {
			h.OnMessage(s.PeerCommonName(), payload)
		}

		if err := s.Send(ctx, reply); err != nil {
			log.Warn("Reply failed", zap.Error(err))
			return
		}
	}
}
