package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"autoreply/internal/domain"
	"autoreply/internal/messenger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxWebhookBytes  = 1 << 20
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) verifyWebhook(c *gin.Context) {
	challenge, ok := s.deps.Messenger.VerifyWebhook(
		c.Query("hub.mode"), c.Query("hub.verify_token"), c.Query("hub.challenge"))
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Verification failed"})
		return
	}
	c.String(http.StatusOK, challenge)
}

func (s *Server) receiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unreadable body"})
		return
	}
	if s.cfg.AppSecret != "" {
		if err := messenger.VerifySignature(s.cfg.AppSecret, c.GetHeader(messenger.SignatureHeader), body); err != nil {
			s.logger.Warn("webhook signature rejected", "request_id", c.GetString(requestIDKey), "error", err)
			c.JSON(http.StatusForbidden, gin.H{"detail": err.Error()})
			return
		}
	}
	inbound, err := messenger.ParseEvent(body)
	if errors.Is(err, messenger.ErrNoText) {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		s.writeError(c, err, http.StatusBadRequest)
		return
	}
	for _, in := range inbound {
		s.dispatch(in, c.GetString(requestIDKey))
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

type ingestTextRequest struct {
	Title    string         `json:"title" binding:"required"`
	Text     string         `json:"text" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) ingestText(c *gin.Context) {
	var req ingestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	res, err := s.deps.Ingest.IngestText(c.Request.Context(), req.Title, req.Text, req.Metadata)
	if err != nil {
		s.writeError(c, err, http.StatusUnprocessableEntity)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ingested": len(res.IDs), "doc_ids": res.IDs, "summary": res.Summary})
}

func (s *Server) ingestFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "multipart field \"file\" is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.writeError(c, err, http.StatusUnprocessableEntity)
		return
	}
	defer f.Close()

	res, err := s.deps.Ingest.IngestFile(c.Request.Context(), fh.Filename, f, nil)
	if err != nil {
		s.writeError(c, err, http.StatusUnprocessableEntity)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ingested": len(res.IDs), "doc_ids": res.IDs, "summary": res.Summary})
}

type conversationItem struct {
	ID          int64     `json:"id"`
	Status      string    `json:"status"`
	Confidence  *float64  `json:"confidence"`
	Preview     string    `json:"preview"`
	LastMessage *string   `json:"last_message"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) listConversations(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "limit must be an integer between 1 and 200"})
			return
		}
		limit = n
	}
	list, err := s.deps.Pipeline.Conversations().ListConversations(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err, http.StatusUnprocessableEntity)
		return
	}
	items := make([]conversationItem, 0, len(list))
	for _, conv := range list {
		items = append(items, conversationItem{
			ID:          conv.ID,
			Status:      string(conv.Status),
			Confidence:  conv.Confidence,
			Preview:     conv.LastMessagePreview,
			LastMessage: conv.LastMessage,
			UpdatedAt:   conv.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// writeError maps domain error kinds to status codes; validation failures use validationStatus.
func (s *Server) writeError(c *gin.Context, err error, validationStatus int) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = validationStatus
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", c.GetString(requestIDKey), "path", c.Request.URL.Path, "error", err)
		c.JSON(status, gin.H{"detail": "internal error"})
		return
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}
