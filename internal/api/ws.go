package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/collab"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	requestTimeout = 10 * time.Second
)

// serveRoom joins the caller to the artifact's room and upgrades the
// connection. Join failures are answered over plain HTTP before upgrading.
func (s *Server) serveRoom(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	roomID := chi.URLParam(r, "artifactID")
	attrs := presence.Attributes{
		DisplayName: r.URL.Query().Get("display_name"),
		Color:       r.URL.Query().Get("color"),
	}

	session, err := s.Collab.Join(r.Context(), roomID, p.ActorID, attrs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("room", roomID), zap.Error(err))
		leaveSession(session)
		return
	}

	c := &wsClient{
		conn:    conn,
		session: session,
		limiter: rate.NewLimiter(s.wsRate, s.wsBurst),
		replies: make(chan collab.Message, 16),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger: s.logger.With(
			zap.String("room", roomID),
			zap.String("participant", p.ActorID),
			zap.String("session", session.ID()),
		),
	}
	c.logger.Info("websocket connected")
	go c.writePump()
	c.readPump(r.Context())
}

func leaveSession(s *collab.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_ = s.Leave(ctx)
}

// wsClient pumps one connection. readPump owns reads and the session
// calls; writePump is the connection's only writer.
type wsClient struct {
	conn    *websocket.Conn
	session *collab.Session
	limiter *rate.Limiter
	replies chan collab.Message
	done    chan struct{} // closed when readPump exits
	stopped chan struct{} // closed when writePump exits
	logger  *zap.Logger
}

func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		close(c.done)
		leaveSession(c.session)
		c.logger.Info("websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.heartbeat(ctx)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			c.reply(collab.ErrorMessage(errs.Validation("binary frames are not supported")))
			continue
		}
		if !c.limiter.Allow() {
			c.reply(collab.ErrorMessage(errs.Validation("message rate limit exceeded")))
			continue
		}

		var m collab.Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.reply(collab.ErrorMessage(errs.Wrap(errs.CodeValidation, err, "malformed message")))
			continue
		}
		if reply, ok := c.handle(ctx, m); ok {
			c.reply(reply)
		}
	}
}

// heartbeat keeps a connected participant present between edits.
func (c *wsClient) heartbeat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := c.session.Heartbeat(ctx); err != nil {
		c.logger.Debug("presence heartbeat failed", zap.Error(err))
	}
}

// handle dispatches one inbound message and returns the reply, if any.
func (c *wsClient) handle(ctx context.Context, m collab.Message) (collab.Message, bool) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch m.Type {
	case collab.MsgSyncStep1:
		reply, err := c.session.Sync(ctx, m.StateVector)
		if err != nil {
			return collab.ErrorMessage(err), true
		}
		return reply, true
	case collab.MsgUpdate:
		ack, err := c.session.Update(ctx, m.Update)
		if err != nil {
			return collab.ErrorMessage(err), true
		}
		return ack, true
	case collab.MsgAwareness:
		var attrs presence.Attributes
		if m.Awareness != nil {
			attrs = *m.Awareness
		}
		if err := c.session.Awareness(ctx, attrs); err != nil {
			return collab.ErrorMessage(err), true
		}
		return collab.Message{}, false
	default:
		return collab.ErrorMessage(errs.Validation("unknown message type %q", m.Type)), true
	}
}

func (c *wsClient) reply(m collab.Message) {
	select {
	case c.replies <- m:
	case <-c.stopped:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.stopped)
	}()

	out := c.session.Outbound()
	for {
		select {
		case m, ok := <-out:
			if !ok {
				// The room dropped the session.
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := c.write(m); err != nil {
				return
			}
		case m := <-c.replies:
			if err := c.write(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsClient) write(m collab.Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(m); err != nil {
		c.logger.Warn("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
