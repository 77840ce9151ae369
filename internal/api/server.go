// Package api serves the reader core over a local HTTP API.
package api

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/user/folio/internal/chat"
	"github.com/user/folio/internal/gateway"
	"github.com/user/folio/internal/notify"
	"github.com/user/folio/internal/selection"
	"github.com/user/folio/internal/types"
)

const recentNotifications = 50

type document struct {
	info types.Document
	runs selection.RunProvider
}

// Server exposes the gateway, the store and registered documents over HTTP.
type Server struct {
	echo   *echo.Echo
	gw     *gateway.Gateway
	store  types.Store
	logger *zap.Logger

	mu        sync.RWMutex
	documents map[types.DocumentID]document
	recent    []notify.Notification
}

// NewServer builds the HTTP API. Notifications published on reg are kept
// for GET /api/notifications.
func NewServer(gw *gateway.Gateway, reg *notify.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		echo:      echo.New(),
		gw:        gw,
		store:     gw.Store(),
		logger:    logger,
		documents: make(map[types.DocumentID]document),
	}
	if reg != nil {
		reg.Register("", s.remember)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Validator = newRequestValidator()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)
	e.GET("/api/documents", s.handleListDocuments)
	e.POST("/api/documents/:id/pages/:page/select", s.handleSelect)
	e.POST("/api/selections", s.handleOpen)
	e.GET("/api/sessions", s.handleListSessions)
	e.GET("/api/sessions/active", s.handleActiveSession)
	e.GET("/api/sessions/:id", s.handleGetSession)
	e.DELETE("/api/sessions/:id", s.handleDeleteSession)
	e.POST("/api/sessions/:id/messages", s.handleSendMessage)
	e.POST("/api/sessions/:id/end", s.handleEndSession)
	e.POST("/api/sessions/:id/analyze", s.handleAnalyze)
	e.GET("/api/concepts", s.handleListConcepts)
	e.GET("/api/notifications", s.handleNotifications)
	return s
}

// ServeHTTP delegates to echo, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Echo returns the underlying echo instance for Start/Shutdown.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// RegisterDocument makes a document available to the drag-replay endpoint.
func (s *Server) RegisterDocument(doc types.Document, runs selection.RunProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = document{info: doc, runs: runs}
}

func (s *Server) document(id types.DocumentID) (document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	return d, ok
}

func (s *Server) remember(_ string, n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, n)
	if len(s.recent) > recentNotifications {
		s.recent = s.recent[len(s.recent)-recentNotifications:]
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDocuments(c echo.Context) error {
	s.mu.RLock()
	docs := make([]types.Document, 0, len(s.documents))
	for _, d := range s.documents {
		docs = append(docs, d.info)
	}
	s.mu.RUnlock()
	sort.Slice(docs, func(i, j int) bool { return docs[i].Title < docs[j].Title })
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) handleNotifications(c echo.Context) error {
	s.mu.RLock()
	out := append([]notify.Notification{}, s.recent...)
	s.mu.RUnlock()
	return c.JSON(http.StatusOK, out)
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrReadOnly), errors.Is(err, types.ErrSessionEnded),
		errors.Is(err, chat.ErrSendInFlight), errors.Is(err, chat.ErrNoSession),
		errors.Is(err, chat.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
		msg = "internal server error"
	}
	if err := c.JSON(code, errorResponse{Error: msg}); err != nil {
		s.logger.Warn("write error response", zap.Error(err))
	}
}

// messageResponse is the wire form of a chat message.
type messageResponse struct {
	ID        string           `json:"id"`
	SessionID types.SessionID  `json:"session_id"`
	Content   string           `json:"content"`
	Sender    types.SenderType `json:"sender_type"`
	CreatedAt time.Time        `json:"created_at"`
	Persisted bool             `json:"persisted"`
	Streaming bool             `json:"is_streaming,omitempty"`
}

func toMessage(m chat.Message) messageResponse {
	return messageResponse{
		ID:        m.Ref.ID(),
		SessionID: m.SessionID,
		Content:   m.Content,
		Sender:    m.Sender,
		CreatedAt: m.CreatedAt,
		Persisted: m.Ref.IsPersisted(),
		Streaming: m.Streaming,
	}
}

// viewResponse is a snapshot of a chat view.
type viewResponse struct {
	SessionID types.SessionID            `json:"session_id,omitempty"`
	Title     string                     `json:"title"`
	State     string                     `json:"state"`
	Draft     string                     `json:"draft,omitempty"`
	Consumed  bool                       `json:"consumed"`
	Duplicate bool                       `json:"duplicate"`
	Contexts  []types.HighlightedContext `json:"highlighted_contexts"`
	Messages  []messageResponse          `json:"messages"`
}

func toView(v *chat.Session, init chat.InitResult) viewResponse {
	msgs := v.Messages()
	out := viewResponse{
		SessionID: v.SessionID(),
		Title:     v.Title(),
		State:     v.State().String(),
		Draft:     v.Draft(),
		Consumed:  init.Consumed,
		Duplicate: init.Duplicate,
		Contexts:  v.Contexts(),
		Messages:  make([]messageResponse, len(msgs)),
	}
	if out.Contexts == nil {
		out.Contexts = []types.HighlightedContext{}
	}
	for i, m := range msgs {
		out.Messages[i] = toMessage(m)
	}
	return out
}
