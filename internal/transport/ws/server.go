package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wasteland.fm/internal/aoi"
	"wasteland.fm/internal/auth"
	"wasteland.fm/internal/protocol"
	"wasteland.fm/internal/sim/world"
)

const (
	handshakeWait = 5 * time.Second
	writeWait     = 5 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	maxFrameBytes = 64 * 1024
)

type Server struct {
	world    *world.World
	verifier auth.Verifier
	log      *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, v auth.Verifier, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		world:    w,
		verifier: v,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxFrameBytes)

		playerID, out := s.handshake(conn)
		if playerID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. Every frame for this player goes through the outbox.
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out.Frames():
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
						_ = conn.Close()
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop. Handlers run here, one frame at a time per connection.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if typ != websocket.TextMessage {
				continue
			}
			s.world.HandleFrame(playerID, msg)
		}

		cancel()
		s.world.Leave(playerID, out)
		out.Close()
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, *aoi.Outbox) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.reject(conn, protocol.Validation("expected hello"), protocol.TypeHello)
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.reject(conn, protocol.Validation("malformed hello: %v", err), protocol.TypeHello)
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.Validation("bad protocol_version %q", hello.ProtocolVersion), protocol.TypeHello)
		return "", nil
	}
	playerID, err := s.verifier.Verify(hello.Token, hello.PlayerID)
	if err != nil {
		s.reject(conn, err, protocol.TypeHello)
		return "", nil
	}

	maxQ := hello.MaxQueue
	if limit := s.world.Tuning().Outbox.MaxQueue; maxQ <= 0 || maxQ > limit {
		maxQ = limit
	}
	out := aoi.NewOutbox(maxQ)

	welcome, err := s.world.Join(playerID, uuid.NewString(), out)
	if err != nil {
		s.reject(conn, err, protocol.TypeHello)
		return "", nil
	}
	// The writer goroutine has not started, so the welcome is the first frame on the wire.
	if err := writeJSON(conn, welcome); err != nil {
		s.world.Leave(playerID, out)
		return "", nil
	}
	s.log.Printf("player %s joined session %s", playerID, welcome.SessionID)
	return playerID, out
}

func (s *Server) reject(conn *websocket.Conn, err error, request string) {
	_ = writeJSON(conn, protocol.ErrorEvent(err, request))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, protocol.CodeOf(err)), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
