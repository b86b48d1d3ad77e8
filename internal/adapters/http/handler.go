package httpadapter

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/PabloGalante/clevercompass/internal/app/conversation"
	"github.com/PabloGalante/clevercompass/internal/domain"
	"github.com/PabloGalante/clevercompass/internal/observability"
)

const defaultTurnsLimit = 50

type Options struct {
	RateLimitRPS   float64 // <= 0 disables rate limiting
	RateLimitBurst int
}

type Server struct {
	svc     *conversation.Service
	limiter *rateLimiter
}

func NewServer(svc *conversation.Service, opts Options) http.Handler {
	s := &Server{svc: svc}

	var limited []echo.MiddlewareFunc
	if opts.RateLimitRPS > 0 {
		s.limiter = newRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
		limited = append(limited, s.limiter.middleware)
	}

	e := echo.New()

	e.GET("/healthz", s.health)
	e.GET("/subjects", s.listSubjects)

	e.POST("/sessions", s.createSession, limited...)
	e.GET("/sessions/:id", s.getSession, limited...)
	e.DELETE("/sessions/:id", s.deleteSession, limited...)
	e.PUT("/sessions/:id/subject", s.selectSubject, limited...)
	e.POST("/sessions/:id/attachment", s.uploadAttachment, limited...)
	e.DELETE("/sessions/:id/attachment", s.removeAttachment, limited...)
	e.POST("/sessions/:id/messages", s.sendMessage, limited...)
	e.GET("/sessions/:id/turns", s.listTurns, limited...)
	e.GET("/sessions/:id/events", s.streamEvents)

	return chainMiddlewares(e, withCORS, withLogging, withRequestID)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type createSessionRequest struct {
	Subject string `json:"subject,omitempty"`
}

type selectSubjectRequest struct {
	Subject string `json:"subject"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Subject   string    `json:"subject"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type snapshotResponse struct {
	SessionID     string            `json:"session_id"`
	Subject       string            `json:"subject"`
	AwaitingReply bool              `json:"awaiting_reply"`
	Attachment    string            `json:"attachment,omitempty"`
	Messages      []messageResponse `json:"messages"`
}

type sendMessageResponse struct {
	UserMessage      *messageResponse `json:"user_message,omitempty"`
	AssistantMessage messageResponse  `json:"assistant_message"`
}

type attachmentResponse struct {
	Image string `json:"image"`
}

type subjectsResponse struct {
	Subjects []string `json:"subjects"`
	Default  string   `json:"default"`
}

// provider detail stays in logs and the turn log store
type turnResponse struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	HasImage  bool      `json:"has_image"`
	TextChars int       `json:"text_chars"`
	Outcome   string    `json:"outcome"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) health(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSubjects(c *echo.Context) error {
	subjects := domain.Subjects()
	resp := subjectsResponse{
		Subjects: make([]string, 0, len(subjects)),
		Default:  string(domain.DefaultSubject),
	}
	for _, sub := range subjects {
		resp.Subjects = append(resp.Subjects, string(sub))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) createSession(c *echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	subject, err := domain.ParseSubject(req.Subject)
	if err != nil {
		return s.fail(c, err)
	}

	sess, err := s.svc.Open(c.Request().Context(), subject)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toSnapshotResponse(sess.Snapshot()))
}

func (s *Server) getSession(c *echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSnapshotResponse(sess.Snapshot()))
}

func (s *Server) deleteSession(c *echo.Context) error {
	if err := s.svc.Close(domain.SessionID(c.Param("id"))); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) selectSubject(c *echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	var req selectSubjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	// a blank subject would parse as the default and wipe the history
	if strings.TrimSpace(req.Subject) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject is required")
	}
	subject, err := domain.ParseSubject(req.Subject)
	if err != nil {
		return s.fail(c, err)
	}

	if err := sess.SelectSubject(subject); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, toSnapshotResponse(sess.Snapshot()))
}

func (s *Server) uploadAttachment(c *echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"image\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read the uploaded file")
	}
	defer f.Close()

	img, err := sess.Attach(c.Request().Context(), f, fh.Header.Get("Content-Type"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, attachmentResponse{Image: string(img)})
}

func (s *Server) removeAttachment(c *echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	sess.RemoveAttachment()
	return c.NoContent(http.StatusNoContent)
}

// sendMessage holds the request open until the assistant reply is appended.
func (s *Server) sendMessage(c *echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	ctx := c.Request().Context()
	replies, err := sess.Send(ctx, req.Text)
	if err != nil {
		return s.fail(c, err)
	}

	select {
	case reply := <-replies:
		resp := sendMessageResponse{AssistantMessage: toMessageResponse(reply)}
		if user, ok := userMessageBefore(sess.Snapshot(), reply.ID); ok {
			m := toMessageResponse(user)
			resp.UserMessage = &m
		}
		return c.JSON(http.StatusOK, resp)
	case <-ctx.Done():
		// client went away; the reply still lands in the session
		return nil
	}
}

func (s *Server) listTurns(c *echo.Context) error {
	id := domain.SessionID(c.Param("id"))
	if _, err := s.svc.Get(id); err != nil {
		return s.fail(c, err)
	}

	limit := defaultTurnsLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	recs, err := s.svc.Turns(c.Request().Context(), id, limit)
	if err != nil {
		return s.fail(c, err)
	}

	out := make([]turnResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, turnResponse{
			ID:        string(r.ID),
			Subject:   string(r.Subject),
			HasImage:  r.HasImage,
			TextChars: r.TextChars,
			Outcome:   string(r.Outcome),
			LatencyMS: r.Latency.Milliseconds(),
			CreatedAt: r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// ─────────────────────────────────────────────
// Conversation Helpers
// ─────────────────────────────────────────────

func (s *Server) session(c *echo.Context) (*conversation.Session, error) {
	sess, err := s.svc.Get(domain.SessionID(c.Param("id")))
	if err != nil {
		return nil, s.fail(c, err)
	}
	return sess, nil
}

// fail maps domain errors to HTTP errors. Anything unexpected is logged and
// reported without detail.
func (s *Server) fail(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrAwaitingReply):
		return echo.NewHTTPError(http.StatusConflict, "the tutor is still answering")
	case errors.Is(err, domain.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, "text or an attached image is required")
	case errors.Is(err, domain.ErrUnknownSubject):
		return echo.NewHTTPError(http.StatusBadRequest, "unknown subject")
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "only image files are supported")
	default:
		observability.LoggerFromContext(c.Request().Context()).Error("request failed",
			"path", c.Request().URL.Path,
			"error", err,
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func userMessageBefore(snap domain.Snapshot, replyID domain.MessageID) (domain.Message, bool) {
	for i, m := range snap.Messages {
		if m.ID == replyID && i > 0 && snap.Messages[i-1].Role == domain.RoleUser {
			return snap.Messages[i-1], true
		}
	}
	return domain.Message{}, false
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:        string(m.ID),
		Role:      string(m.Role),
		Text:      m.Text,
		Subject:   string(m.Subject),
		Image:     string(m.Image),
		CreatedAt: m.CreatedAt,
	}
}

func toSnapshotResponse(snap domain.Snapshot) snapshotResponse {
	msgs := make([]messageResponse, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		msgs = append(msgs, toMessageResponse(m))
	}
	return snapshotResponse{
		SessionID:     string(snap.SessionID),
		Subject:       string(snap.Subject),
		AwaitingReply: snap.AwaitingReply,
		Attachment:    string(snap.Attachment),
		Messages:      msgs,
	}
}
