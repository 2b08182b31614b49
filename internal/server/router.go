package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/updatr/internal/console"
	"github.com/loykin/updatr/internal/controller"
	"github.com/loykin/updatr/internal/events"
	"github.com/loykin/updatr/internal/gitprobe"
	"github.com/loykin/updatr/internal/metrics"
)

// Router provides embeddable HTTP handlers for driving the updater.
// Endpoints:
//   GET  {basePath}/status      query: refresh=1 probes first
//   GET  {basePath}/commits
//   GET  {basePath}/details
//   POST {basePath}/update      202 when started, 409 when busy, 412 when nothing to pull
//   POST {basePath}/install     202 when started, 409 when busy
//   POST {basePath}/input       body: {"text": "..."}
//   POST {basePath}/interrupt
//   POST {basePath}/resize      body: {"rows": 40, "cols": 120}
//   GET  {basePath}/activity    query: since=<id>
//   GET  {basePath}/history     query: limit=50
//   GET  {basePath}/report
//   GET  {basePath}/usage
//   GET  {basePath}/settings
//   GET  {basePath}/events      server-sent events
//   GET  {basePath}/metrics
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      *controller.Controller
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/update, ...
func NewRouter(ctl *controller.Controller, basePath string) *Router {
	return &Router{ctl: ctl, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/commits", r.handleCommits)
	group.GET("/details", r.handleDetails)
	group.POST("/update", r.handleUpdate)
	group.POST("/install", r.handleInstall)
	group.POST("/input", r.handleInput)
	group.POST("/interrupt", r.handleInterrupt)
	group.POST("/resize", r.handleResize)
	group.GET("/activity", r.handleActivity)
	group.GET("/history", r.handleHistory)
	group.GET("/report", r.handleReport)
	group.GET("/usage", r.handleUsage)
	group.GET("/settings", r.handleSettings)
	group.GET("/events", r.handleEvents)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with http.Server's Shutdown or Close.
func NewServer(addr, basePath string, ctl *controller.Controller) (*http.Server, error) {
	return NewServerTLS(addr, basePath, ctl, nil)
}

// NewServerTLS is NewServer serving HTTPS when tlsCfg is non-nil. The
// listener is opened before returning so bind errors reach the caller.
func NewServerTLS(addr, basePath string, ctl *controller.Controller, tlsCfg *tls.Config) (*http.Server, error) {
	r := NewRouter(ctl, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout: /events streams indefinitely
		IdleTimeout: 60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server.Addr = ln.Addr().String()
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type acceptedResp struct {
	Started string `json:"started"`
}

func (r *Router) handleStatus(c *gin.Context) {
	if c.Query("refresh") == "1" {
		writeJSON(c, http.StatusOK, r.ctl.Refresh(c.Request.Context()))
		return
	}
	st, ok := r.ctl.Status()
	if !ok {
		st = r.ctl.Refresh(c.Request.Context())
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleCommits(c *gin.Context) {
	commits, err := r.ctl.Commits(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if commits == nil {
		commits = []gitprobe.Commit{}
	}
	writeJSON(c, http.StatusOK, commits)
}

func (r *Router) handleDetails(c *gin.Context) {
	d := r.ctl.Details(c.Request.Context())
	if c.Query("format") == "text" {
		c.String(http.StatusOK, d.String())
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (r *Router) handleUpdate(c *gin.Context) {
	// the operation outlives the request; its context belongs to the controller
	if err := r.ctl.UpdateAsync(c.Request.Context()); err != nil {
		writeJSON(c, operationStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, acceptedResp{Started: controller.OpUpdate})
}

func (r *Router) handleInstall(c *gin.Context) {
	if err := r.ctl.InstallAsync(); err != nil {
		writeJSON(c, operationStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, acceptedResp{Started: controller.OpInstall})
}

func operationStatus(err error) int {
	switch {
	case errors.Is(err, controller.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, controller.ErrNoUpdates):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

type inputReq struct {
	Text string `json:"text"`
}

func (r *Router) handleInput(c *gin.Context) {
	var req inputReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Text == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "text required"})
		return
	}
	if err := r.ctl.Send(req.Text); err != nil {
		writeJSON(c, consoleStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleInterrupt(c *gin.Context) {
	if err := r.ctl.Interrupt(); err != nil {
		writeJSON(c, consoleStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type resizeReq struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

func (r *Router) handleResize(c *gin.Context) {
	var req resizeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Rows == 0 || req.Cols == 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "rows and cols must be positive"})
		return
	}
	if err := r.ctl.Resize(req.Rows, req.Cols); err != nil {
		writeJSON(c, consoleStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func consoleStatus(err error) int {
	if errors.Is(err, console.ErrNoProcess) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (r *Router) handleActivity(c *gin.Context) {
	if since := c.Query("since"); since != "" {
		writeJSON(c, http.StatusOK, r.ctl.ActivitySince(since))
		return
	}
	writeJSON(c, http.StatusOK, r.ctl.Activity())
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := r.ctl.History(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleReport(c *gin.Context) {
	rep := r.ctl.LastReport()
	if rep == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no operation has finished yet"})
		return
	}
	writeJSON(c, http.StatusOK, rep)
}

type usageResp struct {
	PID       int            `json:"pid"`
	Kind      string         `json:"kind"`
	Operation string         `json:"operation"`
	Usage     *metrics.Usage `json:"usage"`
}

func (r *Router) handleUsage(c *gin.Context) {
	pid, kind := r.ctl.Running()
	u, err := r.ctl.Usage()
	if err != nil {
		writeJSON(c, consoleStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, usageResp{PID: pid, Kind: kind, Operation: r.ctl.Busy(), Usage: u})
}

func (r *Router) handleSettings(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Settings())
}

// handleEvents streams broker messages as server-sent events until the
// client disconnects or the controller shuts down. The first event is always
// the current status, probed on demand when none is known yet.
func (r *Router) handleEvents(c *gin.Context) {
	sub := r.ctl.Broker().SubscribeQueued()
	defer sub.Close()
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	st, ok := r.ctl.Status()
	if !ok {
		st = r.ctl.Refresh(ctx)
	}
	c.SSEvent("status", events.Wrap(events.StatusReady{Status: st}))
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		return forward(ctx, c, sub)
	})
}

func forward(ctx context.Context, c *gin.Context, sub *events.Subscription) bool {
	select {
	case <-ctx.Done():
		return false
	case m, ok := <-sub.C:
		if !ok {
			return false
		}
		c.SSEvent(m.Kind(), events.Wrap(m))
		return true
	}
}
