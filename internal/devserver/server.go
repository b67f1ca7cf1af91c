// Package devserver is an in-memory stand-in for the dealership chat
// backend. It exposes the same REST endpoints and realtime channel the
// widget talks to in production, so the widget and its integration tests
// can run against localhost with no external services.
package devserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/primeautohub/chatwidget/internal/chat"
	"github.com/primeautohub/chatwidget/internal/logger"
	"github.com/primeautohub/chatwidget/internal/transport"
)

// Options configures the development backend.
type Options struct {
	Logger *logger.Logger

	// AutoReply makes the server answer every visitor message with a
	// canned admin response after AutoReplyDelay. Handy for exercising
	// the widget without a human on the admin side.
	AutoReply      bool
	AutoReplyDelay time.Duration
}

// Server is the mock chat backend.
type Server struct {
	store    *memoryStore
	hub      *hub
	logger   *logger.Logger
	upgrader websocket.Upgrader
	opts     Options
	router   *gin.Engine
}

// NewServer builds the backend and its routes.
func NewServer(opts Options) *Server {
	if opts.AutoReplyDelay <= 0 {
		opts.AutoReplyDelay = 700 * time.Millisecond
	}

	s := &Server{
		store:  newMemoryStore(),
		hub:    newHub(),
		logger: opts.Logger.WithComponent("devserver"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		opts: opts,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/chat/sessions", s.createSession)
	router.GET("/chat/sessions/:sessionId", s.getSession)
	router.PATCH("/chat/sessions/:sessionId", s.updateSession)
	router.DELETE("/chat/sessions/:sessionId", s.closeSession)
	router.GET("/chat/sessions/:sessionId/messages", s.listMessages)
	router.POST("/chat/messages", s.postMessage)
	router.GET("/ws", s.serveWS)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = router
	return s
}

// Handler exposes the router for http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) createSession(c *gin.Context) {
	var session chat.Session
	if err := c.ShouldBindJSON(&session); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if session.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId required"})
		return
	}

	created := s.store.createSession(session)
	s.logger.Info("session created", slog.String("session_id", created.SessionID))
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.store.getSession(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) updateSession(c *gin.Context) {
	var profile chat.ContactProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := s.store.updateProfile(c.Param("sessionId"), profile)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) closeSession(c *gin.Context) {
	session, err := s.store.closeSession(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) listMessages(c *gin.Context) {
	messages, err := s.store.listMessages(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) postMessage(c *gin.Context) {
	var msg chat.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg.SessionID == "" || msg.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and message required"})
		return
	}
	if msg.Sender == "" {
		msg.Sender = chat.SenderClient
	}

	stored, err := s.store.appendMessage(msg)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	s.fanOut(stored, nil)
	c.JSON(http.StatusCreated, stored)
}

// fanOut pushes a stored message to the session's realtime room and, when
// enabled, schedules the canned admin reply to visitor messages.
func (s *Server) fanOut(msg chat.Message, except *client) {
	frame, err := transport.NewFrame(transport.EventNewMessage, msg)
	if err != nil {
		s.logger.Warn("failed to encode message frame", slog.String("error", err.Error()))
		return
	}
	s.hub.broadcast(msg.SessionID, frame, except)

	if s.opts.AutoReply && msg.Sender == chat.SenderClient {
		time.AfterFunc(s.opts.AutoReplyDelay, func() { s.autoReply(msg.SessionID) })
	}
}

func (s *Server) autoReply(sessionID string) {
	reply, err := s.store.appendMessage(chat.Message{
		SessionID: sessionID,
		Text:      "Спасибо за сообщение! Менеджер Prime Auto Hub скоро ответит.",
		Sender:    chat.SenderAdmin,
	})
	if err != nil {
		return
	}
	frame, err := transport.NewFrame(transport.EventNewMessage, reply)
	if err != nil {
		return
	}
	s.hub.broadcast(sessionID, frame, nil)
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	cl := &client{conn: conn}
	defer func() {
		s.hub.leave(cl)
		conn.Close()
	}()

	for {
		var frame transport.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		s.handleFrame(cl, frame)
	}
}

func (s *Server) handleFrame(cl *client, frame transport.Frame) {
	switch frame.Event {
	case transport.EventJoinSession:
		var join transport.JoinPayload
		if err := frame.Decode(&join); err != nil || join.SessionID == "" {
			return
		}
		s.hub.join(join.SessionID, cl)
		s.logger.Debug("realtime join",
			slog.String("session_id", join.SessionID),
			slog.String("user_type", join.UserType))

	case transport.EventSendMessage:
		var msg chat.Message
		if err := frame.Decode(&msg); err != nil {
			return
		}
		stored, err := s.store.appendMessage(msg)
		if err != nil {
			return
		}
		// The sender gets the confirmed echo too; the widget relies on
		// it to resolve its optimistic entry.
		s.fanOut(stored, nil)

	case transport.EventTyping:
		var typing transport.TypingPayload
		if err := frame.Decode(&typing); err != nil {
			return
		}
		out, err := transport.NewFrame(transport.EventUserTyping, typing)
		if err != nil {
			return
		}
		s.hub.broadcast(typing.SessionID, out, cl)
	}
}
