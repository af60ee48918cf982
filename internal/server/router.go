package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/auth"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/editor"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/permissions"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

const (
	actorContextKey          = "cuesheet_actor"
	defaultHeartbeatInterval = 25 * time.Second
	defaultViewIdleTimeout   = 2 * time.Minute
	minReapInterval          = 10 * time.Millisecond
)

var (
	errMissingStore     = errors.New("document store dependency required")
	errMissingValidator = errors.New("session validator dependency required")
	errMissingResolver  = errors.New("actor resolver dependency required")
)

var defaultAllowedOrigins = []string{"http://localhost:8000"}

// DocumentStore is the persistence surface the HTTP layer needs: everything an
// editor session uses plus the schedule board and export operations.
type DocumentStore interface {
	editor.Store
	SaveScheduleBoard(ctx context.Context, projectID string, board cues.ScheduleBoard, by string) error
	Export(ctx context.Context, projectID string) (docstore.ProjectExport, error)
}

// SessionValidator authenticates an incoming request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// ActorResolver maps validated claims onto an editor actor.
type ActorResolver interface {
	ResolveActor(claims auth.SessionClaims) (permissions.Actor, error)
}

// EditorDefaults configures every editor session the handler opens.
type EditorDefaults struct {
	UndoCapacity     int
	SeedStatuses     []registry.Entry
	DefaultFrameRate string
}

type Dependencies struct {
	Store             DocumentStore
	Validator         SessionValidator
	Actors            ActorResolver
	Logger            *zap.Logger
	AllowedOrigins    []string
	Editor            EditorDefaults
	HeartbeatInterval time.Duration
	// ViewIdleTimeout closes views that have no attached stream and saw no request
	// for this long.
	ViewIdleTimeout time.Duration
	// MaxViewsPerUser caps the open views of one user. Zero disables the cap.
	MaxViewsPerUser int
	Clock           func() time.Time
}

// Handler serves the cue sheet HTTP API and owns the open editor views.
type Handler struct {
	router *gin.Engine
	views  *viewRegistry
	cancel context.CancelFunc
	logger *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (*Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Actors == nil {
		return nil, errMissingResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	idleTimeout := deps.ViewIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultViewIdleTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	baseCtx, cancel := context.WithCancel(context.Background())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		baseCtx:   baseCtx,
		store:     deps.Store,
		validator: deps.Validator,
		actors:    deps.Actors,
		logger:    logger,
		defaults:  deps.Editor,
		heartbeat: heartbeat,
		views:     newViewRegistry(),
		clock:     clock,
		maxViews:  deps.MaxViewsPerUser,
	}
	go handler.reapIdleViews(baseCtx, idleTimeout)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/projects/:projectId/views", handler.handleOpenView)
	protected.PUT("/projects/:projectId/schedule-board", handler.handleSaveScheduleBoard)
	protected.GET("/projects/:projectId/export", handler.handleExport)
	protected.GET("/views/:viewId/stream", handler.handleViewStream)
	protected.POST("/views/:viewId/events", handler.handleViewEvent)
	protected.GET("/views/:viewId/rows", handler.handleViewRows)
	protected.GET("/views/:viewId/inspector", handler.handleViewInspector)
	protected.DELETE("/views/:viewId", handler.handleCloseView)

	return &Handler{router: router, views: handler.views, cancel: cancel, logger: logger}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Close shuts down every open view.
func (h *Handler) Close() {
	views := h.views.drain()
	for _, view := range views {
		view.shutdown()
	}
	h.cancel()
	if len(views) > 0 {
		h.logger.Info("closed open views", zap.Int("count", len(views)))
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed = append(allowed, trimmed)
		}
	}
	if len(allowed) == 0 {
		allowed = defaultAllowedOrigins
	}
	return cors.New(cors.Config{
		AllowOrigins:     allowed,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	baseCtx   context.Context
	store     DocumentStore
	validator SessionValidator
	actors    ActorResolver
	logger    *zap.Logger
	defaults  EditorDefaults
	heartbeat time.Duration
	views     *viewRegistry
	clock     func() time.Time
	maxViews  int
}

// reapIdleViews closes abandoned views until ctx ends.
func (h *httpHandler) reapIdleViews(ctx context.Context, idleTimeout time.Duration) {
	interval := idleTimeout / 2
	if interval < minReapInterval {
		interval = minReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := h.views.reap(h.clock().Add(-idleTimeout))
			for _, view := range idle {
				view.shutdown()
				h.logger.Debug("idle view closed", zap.String("view_id", view.id), zap.String("user_id", view.userID))
			}
		}
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	actor, err := h.actors.ResolveActor(claims)
	if err != nil {
		h.logger.Error("failed to resolve actor", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

func actorFrom(c *gin.Context) (permissions.Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return permissions.Actor{}, false
	}
	actor, ok := value.(permissions.Actor)
	return actor, ok
}

type openViewRequest struct {
	CueID string `json:"cue_id"`
}

type openViewResponse struct {
	ViewID    string `json:"view_id"`
	ProjectID string `json:"project_id"`
}

func (h *httpHandler) handleOpenView(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request openViewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	projectID, err := cues.NewProjectID(c.Param("projectId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_project"})
		return
	}
	if h.maxViews > 0 && h.views.count(actor.UserID) >= h.maxViews {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_views"})
		return
	}
	viewID, err := newViewID()
	if err != nil {
		h.logger.Error("failed to issue view id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "view_open_failed"})
		return
	}

	outbox := newViewOutbox(outboxBufferSize)
	session, err := editor.NewSession(editor.Config{
		ProjectID:        projectID,
		Actor:            &actor,
		Store:            h.store,
		View:             outbox,
		Logger:           h.logger.With(zap.String("view_id", viewID)),
		UndoCapacity:     h.defaults.UndoCapacity,
		SeedStatuses:     h.defaults.SeedStatuses,
		DefaultFrameRate: h.defaults.DefaultFrameRate,
		InitialCueID:     strings.TrimSpace(request.CueID),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_project"})
		return
	}
	if err := session.Start(h.baseCtx); err != nil {
		h.logger.Error("failed to start editor session", zap.String("project_id", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": storeErrorCode(err, "view_open_failed")})
		return
	}
	view := newOpenView(viewID, projectID, actor.UserID, session, outbox, h.clock())
	if err := h.views.add(view, h.maxViews); err != nil {
		view.shutdown()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_views"})
		return
	}
	h.logger.Debug("view opened", zap.String("view_id", viewID), zap.String("project_id", projectID), zap.String("user_id", actor.UserID))
	c.JSON(http.StatusCreated, openViewResponse{ViewID: viewID, ProjectID: projectID})
}

func (h *httpHandler) lookupView(c *gin.Context) (*openView, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	view, err := h.views.lookup(c.Param("viewId"), actor.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "view_not_found"})
		return nil, false
	}
	view.touch(h.clock())
	return view, true
}

func (h *httpHandler) handleViewStream(c *gin.Context) {
	view, ok := h.lookupView(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	view.streams.Add(1)
	defer func() {
		view.touch(h.clock())
		view.streams.Add(-1)
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-view.done:
			return false
		case <-view.outbox.ready:
			for _, event := range view.outbox.drain() {
				c.SSEvent(event.Type, event.Payload)
			}
			return true
		case tick := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
}

func (h *httpHandler) handleViewEvent(c *gin.Context) {
	view, ok := h.lookupView(c)
	if !ok {
		return
	}
	var request eventRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event, err := request.toEvent()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}
	outcome := view.session.Dispatch(c.Request.Context(), event)
	c.JSON(http.StatusOK, newOutcomeResponse(outcome))
}

func (h *httpHandler) handleViewRows(c *gin.Context) {
	view, ok := h.lookupView(c)
	if !ok {
		return
	}
	filter := cues.Filter{Query: c.Query("q"), Status: c.Query("status")}
	c.JSON(http.StatusOK, view.session.State(filter))
}

func (h *httpHandler) handleViewInspector(c *gin.Context) {
	view, ok := h.lookupView(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, view.session.Inspector())
}

func (h *httpHandler) handleCloseView(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	view, err := h.views.remove(c.Param("viewId"), actor.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "view_not_found"})
		return
	}
	view.shutdown()
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSaveScheduleBoard(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !permissions.NewGate(&actor).CanEditAll() {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission_denied"})
		return
	}
	projectID, err := cues.NewProjectID(c.Param("projectId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_project"})
		return
	}
	var board cues.ScheduleBoard
	if err := c.ShouldBindJSON(&board); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if board.Schedule == nil {
		board.Schedule = map[string]map[string]string{}
	}
	if err := h.store.SaveScheduleBoard(c.Request.Context(), projectID, board, actor.Name()); err != nil {
		h.logger.Error("failed to save schedule board", zap.String("project_id", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": storeErrorCode(err, "save_failed")})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleExport(c *gin.Context) {
	if _, ok := actorFrom(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	projectID, err := cues.NewProjectID(c.Param("projectId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_project"})
		return
	}
	export, err := h.store.Export(c.Request.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to export project", zap.String("project_id", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": storeErrorCode(err, "export_failed")})
		return
	}
	c.JSON(http.StatusOK, export)
}

func storeErrorCode(err error, fallback string) string {
	if code := docstore.ErrorCode(err); code != "" {
		return code
	}
	return fallback
}
