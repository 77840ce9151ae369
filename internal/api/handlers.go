package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/user/folio/internal/chat"
	"github.com/user/folio/internal/gateway"
	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/selection"
	"github.com/user/folio/internal/types"
)

// activeParam addresses the gateway's current view instead of a stored id.
const activeParam = "active"

type selectRequest struct {
	From geom.Point `json:"from"`
	To   geom.Point `json:"to"`
}

type selectResponse struct {
	Selected  bool                 `json:"selected"`
	Selection *types.TextSelection `json:"selection,omitempty"`
	Overlay   []geom.Rect          `json:"overlay"`
}

// handleSelect replays a drag from one container point to another over the
// page and, when it covers text, stores the result as the pending selection.
func (s *Server) handleSelect(c echo.Context) error {
	doc, ok := s.document(types.DocumentID(c.Param("id")))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 || (doc.info.PageCount > 0 && page > doc.info.PageCount) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	engine := selection.NewEngine(doc.runs, nil, selection.WithLogger(s.logger))
	engine.SetDocument(doc.info.ID)
	engine.SetPage(page)
	engine.PointerDown(req.From)
	engine.PointerMove(req.To)
	overlay := engine.Rects()
	sel, ok := engine.PointerUp(c.Request().Context(), req.To)
	if !ok {
		return c.JSON(http.StatusOK, selectResponse{Overlay: []geom.Rect{}})
	}

	s.gw.SetPendingSelection(*sel, doc.info)
	return c.JSON(http.StatusOK, selectResponse{Selected: true, Selection: sel, Overlay: overlay})
}

type openRequest struct {
	Selection *types.TextSelection `json:"selection"`
	Document  *types.Document      `json:"document"`
	SessionID types.SessionID      `json:"session_id" validate:"required_if=ReadOnly true"`
	ReadOnly  bool                 `json:"read_only"`
}

// handleOpen opens the chat view for a selection, the pending selection
// when the body names none, or a past session read-only.
func (s *Server) handleOpen(c echo.Context) error {
	var req openRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if err := c.Validate(&req); err != nil {
			return err
		}
	}
	if req.Selection != nil && req.Selection.SelectedText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "selection has no text")
	}
	if req.Selection != nil && req.Selection.ID == "" {
		req.Selection.ID = types.NewSelectionID()
	}
	if req.Selection != nil && req.Document == nil {
		if d, ok := s.document(req.Selection.DocumentID); ok {
			info := d.info
			req.Document = &info
		}
	}

	res := s.gw.Open(c.Request().Context(), gateway.OpenRequest{
		Selection: req.Selection,
		Document:  req.Document,
		SessionID: req.SessionID,
		ReadOnly:  req.ReadOnly,
	})
	if res.Err != nil {
		return res.Err
	}
	return c.JSON(http.StatusOK, toView(res.View, res.Init))
}

func (s *Server) handleListSessions(c echo.Context) error {
	sessions, err := s.store.List(c.Request().Context())
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleActiveSession(c echo.Context) error {
	sess, err := s.store.GetActive(c.Request().Context())
	if err != nil {
		return err
	}
	if sess == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.store.Get(c.Request().Context(), types.SessionID(c.Param("id")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.store.Delete(c.Request().Context(), types.SessionID(c.Param("id"))); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListConcepts(c echo.Context) error {
	concepts, err := s.store.ListConcepts(c.Request().Context())
	if err != nil {
		return err
	}
	if concepts == nil {
		concepts = []types.Concept{}
	}
	return c.JSON(http.StatusOK, concepts)
}

// focus points the gateway at the session named by the :id parameter.
func (s *Server) focus(c echo.Context) (*chat.Session, error) {
	ctx := c.Request().Context()
	id := c.Param("id")
	if id == activeParam {
		if v := s.gw.View(); v != nil {
			return v, nil
		}
		res := s.gw.Open(ctx, gateway.OpenRequest{})
		return res.View, res.Err
	}
	return s.gw.Focus(ctx, types.SessionID(id))
}

type sendRequest struct {
	Content string `json:"content" validate:"required,max=8000"`
}

type chunkEvent struct {
	Delta   string `json:"delta"`
	Content string `json:"content"`
}

// handleSendMessage streams the assistant reply as server-sent events:
// "chunk" per fragment, then "done" with the persisted message or "error".
func (s *Server) handleSendMessage(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	view, err := s.focus(c)
	if err != nil {
		return err
	}
	if view.State() == chat.ReadOnly {
		return chat.ErrReadOnly
	}

	stream, err := newEventStream(c)
	if err != nil {
		return err
	}
	reply, err := s.gw.Send(c.Request().Context(), req.Content, func(delta, content string) {
		if werr := stream.send("chunk", chunkEvent{Delta: delta, Content: content}); werr != nil {
			s.logger.Debug("client went away mid-stream", zap.Error(werr))
		}
	})
	if err != nil {
		return stream.send("error", errorResponse{Error: err.Error()})
	}
	return stream.send("done", toMessage(reply))
}

func (s *Server) handleEndSession(c echo.Context) error {
	view, err := s.focus(c)
	if err != nil {
		return err
	}
	if err := s.gw.End(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toView(view, chat.InitResult{}))
}

type analysisDone struct {
	ConceptsExtracted int `json:"concepts_extracted"`
}

// handleAnalyze streams "progress" events for each analysis stage, then
// "done" or "error".
func (s *Server) handleAnalyze(c echo.Context) error {
	if _, err := s.focus(c); err != nil {
		return err
	}
	stream, err := newEventStream(c)
	if err != nil {
		return err
	}
	n, err := s.gw.Analyze(c.Request().Context(), func(st chat.Stage) {
		if werr := stream.send("progress", st); werr != nil {
			s.logger.Debug("client went away mid-analysis", zap.Error(werr))
		}
	})
	if err != nil {
		return stream.send("error", errorResponse{Error: err.Error()})
	}
	return stream.send("done", analysisDone{ConceptsExtracted: n})
}

// eventStream writes named server-sent events.
type eventStream struct {
	c       echo.Context
	flusher http.Flusher
}

func newEventStream(c echo.Context) (*eventStream, error) {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{c: c, flusher: flusher}, nil
}

func (s *eventStream) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
