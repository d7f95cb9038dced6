package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nudgebot/internal/auth"
	"nudgebot/internal/models"
	"nudgebot/internal/realtime"
	"nudgebot/internal/service/assistant"
	"nudgebot/internal/service/notify"
)

const maxUploadBytes = 10 << 20

var allowedContentTypes = []string{
	"text/plain",
	"text/markdown",
	"text/csv",
	"application/json",
	"application/pdf",
}

// Events turns domain events into scheduled notification jobs.
type Events interface {
	TaskCompleted(ctx context.Context, taskID, actorUserID int64) (*models.NotificationJob, error)
	ItemUpdated(ctx context.Context, itemID, actorUserID int64) (*models.NotificationJob, error)
	CommentCreated(ctx context.Context, commentID int64) (*models.NotificationJob, error)
}

type Assistant interface {
	Reply(ctx context.Context, turn assistant.Turn) (*assistant.Reply, error)
}

type Attachments interface {
	User(ctx context.Context, id int64) (*models.User, error)
	CreateAttachment(ctx context.Context, a models.Attachment) (*models.Attachment, error)
}

// Pinger reports storage health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler wires HTTP routes to the notification and assistant services.
type Handler struct {
	events      Events
	assistant   Assistant
	attachments Attachments
	auth        *auth.Service
	listener    realtime.Listener
	db          Pinger
	fileBase    string
}

func NewHandler(events Events, asst Assistant, attachments Attachments, authService *auth.Service, listener realtime.Listener, db Pinger, fileBase string) *Handler {
	return &Handler{
		events:      events,
		assistant:   asst,
		attachments: attachments,
		auth:        authService,
		listener:    listener,
		db:          db,
		fileBase:    fileBase,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(h.auth.Middleware())
	events := api.Group("/events")
	events.POST("/tasks/:id/completed", h.taskCompleted)
	events.POST("/items/:id/updated", h.itemUpdated)
	events.POST("/comments/:id/created", h.commentCreated)
	api.POST("/assistant/turns", h.assistantTurn)
	api.POST("/attachments", h.uploadAttachment)
	if h.listener != nil {
		api.GET("/realtime/stream", h.realtimeStream)
	}
}

func (h *Handler) healthz(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type eventRequest struct {
	ActorUserID int64 `json:"actor_user_id"`
}

func (h *Handler) taskCompleted(c *gin.Context) {
	id, req, ok := bindEvent(c)
	if !ok {
		return
	}
	job, err := h.events.TaskCompleted(c.Request.Context(), id, req.ActorUserID)
	respondScheduled(c, job, err)
}

func (h *Handler) itemUpdated(c *gin.Context) {
	id, req, ok := bindEvent(c)
	if !ok {
		return
	}
	job, err := h.events.ItemUpdated(c.Request.Context(), id, req.ActorUserID)
	respondScheduled(c, job, err)
}

func (h *Handler) commentCreated(c *gin.Context) {
	id, _, ok := bindEvent(c)
	if !ok {
		return
	}
	job, err := h.events.CommentCreated(c.Request.Context(), id)
	respondScheduled(c, job, err)
}

// bindEvent parses the path id and an optional JSON body.
func bindEvent(c *gin.Context) (int64, eventRequest, bool) {
	var req eventRequest
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, req, false
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return 0, req, false
		}
	}
	return id, req, true
}

func respondScheduled(c *gin.Context, job *models.NotificationJob, err error) {
	switch {
	case errors.Is(err, notify.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
	case err != nil:
		slog.Error("schedule notification failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schedule failed"})
	case job == nil:
		c.JSON(http.StatusAccepted, gin.H{"scheduled": false})
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"scheduled": true,
			"job_id":    job.ID,
			"kind":      job.Kind,
			"token":     job.SnapshotToken,
		})
	}
}

func (h *Handler) assistantTurn(c *gin.Context) {
	var turn assistant.Turn
	if err := c.ShouldBindJSON(&turn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reply, err := h.assistant.Reply(c.Request.Context(), turn)
	if err != nil {
		switch {
		case errors.Is(err, assistant.ErrEmptyTurn):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, assistant.ErrUnknownUser):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			slog.Error("assistant turn failed", "user_id", turn.UserID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "assistant unavailable"})
		}
		return
	}
	c.JSON(http.StatusOK, reply)
}

// realtimeStream relays published envelopes as server-sent events. The
// optional group query parameter filters by broadcast group.
func (h *Handler) realtimeStream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	group := c.Query("group")
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	envelopes := make(chan realtime.Envelope, 64)
	ctx := c.Request.Context()
	go func() {
		if err := h.listener.Listen(ctx, func(env realtime.Envelope) {
			if group != "" && env.Group != group {
				return
			}
			select {
			case envelopes <- env:
			default:
				slog.Warn("realtime stream lagging, dropping event", "event", env.Event, "group", env.Group)
			}
		}); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("realtime listen ended", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-envelopes:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", env.Event, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

// sniffContentType detects the type from up to the first 512 bytes. Files
// shorter than that are fine; any other read error is returned.
func sniffContentType(r io.Reader) (string, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("sniff content type: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}

// uploadAttachment stores a file under the attachment directory so the
// attachment_reader tool can read it back.
func (h *Handler) uploadAttachment(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	orgID, err := strconv.ParseInt(c.PostForm("organization_id"), 10, 64)
	if err != nil || orgID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization_id"})
		return
	}
	userID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	user, err := h.attachments.User(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		return
	}
	if user == nil || user.OrganizationID != orgID {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	contentType, err := sniffContentType(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	filename := filepath.Base(file.Filename)
	destDir, relPath, finalName := h.uniqueFilePath(orgID, userID, filename)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	if err := c.SaveUploadedFile(file, filepath.Join(h.fileBase, relPath)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	att, err := h.attachments.CreateAttachment(c.Request.Context(), models.Attachment{
		OrganizationID: orgID,
		UserID:         userID,
		FileName:       finalName,
		StoredPath:     relPath,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record file failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"attachment_id": att.ID,
		"file_name":     finalName,
		"size":          file.Size,
		"mime":          contentType,
	})
}

// uniqueFilePath returns the directory, the path relative to fileBase and the
// final file name, suffixing " (n)" when the name is taken.
func (h *Handler) uniqueFilePath(orgID, userID int64, filename string) (string, string, string) {
	rel := filepath.Join(strconv.FormatInt(orgID, 10), strconv.FormatInt(userID, 10))
	dir := filepath.Join(h.fileBase, rel)
	if _, err := os.Stat(filepath.Join(dir, filename)); os.IsNotExist(err) {
		return dir, filepath.Join(rel, filename), filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return dir, filepath.Join(rel, candidate), candidate
		}
	}
	candidate := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return dir, filepath.Join(rel, candidate), candidate
}
