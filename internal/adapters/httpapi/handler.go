// Package httpapi exposes calibration runs over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"offsetcore/internal/adapters/exports"
	"offsetcore/internal/core"
	"offsetcore/pkg/domain"
)

// Jogger moves the pipette. jog.Dispatcher satisfies it.
type Jogger interface {
	Do(ctx context.Context, j domain.Jog) (domain.Vector3, error)
}

// Exporter schedules run report exports. exports.Worker satisfies it.
type Exporter interface {
	Enqueue(ctx context.Context, in exports.Input) (exports.Record, error)
	Get(id string) (exports.Record, bool)
	List(runID string) []exports.Record
}

// CommandRunner executes hardware command chains. robot.Client satisfies it.
type CommandRunner interface {
	RunCommands(ctx context.Context, cmds []domain.Command, continueOnFailure bool) ([]domain.CommandResult, error)
}

var (
	errUnavailable = errors.New("not configured")
	errNoPosition  = errors.New("position required: none given and the run has no position from a successful jog")
)

// Option configures a Handler.
type Option func(*Handler)

// WithJogger enables the jog endpoint.
func WithJogger(j Jogger) Option { return func(h *Handler) { h.jog = j } }

// WithExporter enables the export endpoints.
func WithExporter(e Exporter) Option { return func(h *Handler) { h.exports = e } }

// WithCommandRunner enables the command chain endpoint.
func WithCommandRunner(r CommandRunner) Option { return func(h *Handler) { h.commands = r } }

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithClock overrides the clock used for reports.
func WithClock(c core.Clock) Option {
	return func(h *Handler) {
		if c != nil {
			h.clock = c
		}
	}
}

// Handler serves the run API.
type Handler struct {
	svc      *core.Service
	jog      Jogger
	exports  Exporter
	commands CommandRunner
	log      core.Logger
	clock    core.Clock

	// positions holds the position returned by each run's latest jog. A
	// failed jog removes the entry.
	mu        sync.Mutex
	positions map[string]domain.Vector3
}

// New builds a Handler over svc.
func New(svc *core.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, log: nopLogger{}, clock: core.ClockFunc(nil), positions: make(map[string]domain.Vector3)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)

	runs := r.Group("/runs")
	runs.GET("", h.listRuns)
	runs.POST("", h.startRun)
	runs.GET("/:id", h.getRun)
	runs.DELETE("/:id", h.finishRun)
	runs.GET("/:id/report", h.report)

	runs.PUT("/:id/selection", h.selectLabware)
	runs.PUT("/:id/selection/location", h.selectLocation)
	runs.DELETE("/:id/selection", h.clearSelection)
	runs.POST("/:id/substep/proceed", h.mutate(h.svc.ProceedSubstep))
	runs.POST("/:id/substep/back", h.mutate(h.svc.GoBackSubstep))

	runs.POST("/:id/steps/proceed", h.mutate(h.svc.ProceedStep))
	runs.POST("/:id/steps/back", h.mutate(h.svc.GoBackStep))
	runs.PUT("/:id/steps/current", h.proceedToStep)

	runs.POST("/:id/positions/initial", h.recordPosition(h.svc.RecordInitialPosition))
	runs.POST("/:id/positions/final", h.recordPosition(h.svc.RecordFinalPosition))
	runs.POST("/:id/reset", h.resetLocation)
	runs.DELETE("/:id/working", h.mutate(h.svc.ClearWorkingOffsets))
	runs.POST("/:id/apply", h.mutate(h.svc.ApplyWorkingOffsets))

	runs.POST("/:id/jog", h.jogPipette)
	runs.POST("/:id/exports", h.enqueueExport)
	runs.GET("/:id/exports", h.listExports)
	r.GET("/exports/:exportId", h.getExport)
	r.POST("/commands", h.runCommands)
}

// NewRouter returns a gin engine with recovery, access logging and,
// when obs is non-nil, request metrics.
func NewRouter(h *Handler, obs RequestObserver) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), AccessLog(h.log))
	if obs != nil {
		r.Use(Metrics(obs))
	}
	h.Register(r)
	return r
}

// runResponse is returned by every run mutation.
type runResponse struct {
	Run    core.RunState `json:"run"`
	Result domain.Result `json:"result"`
}

func (h *Handler) reply(c *gin.Context, status int, run core.RunState, res domain.Result, err error) {
	if err != nil {
		h.fail(c, err, res)
		return
	}
	c.JSON(status, runResponse{Run: run, Result: res})
}

// mutate adapts a service operation that needs only the run ID.
func (h *Handler) mutate(op func(context.Context, string) (core.RunState, domain.Result, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, res, err := op(c.Request.Context(), c.Param("id"))
		h.reply(c, http.StatusOK, run, res, err)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "runs": len(h.svc.Runs())})
}

func (h *Handler) listRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.svc.Runs()})
}

type startRunRequest struct {
	RunID   string                          `json:"runId"`
	Labware []domain.LabwareGeometryDetails `json:"labware" binding:"required"`
}

func (h *Handler) startRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	for i := range req.Labware {
		normaliseLabware(&req.Labware[i])
	}
	run, res, err := h.svc.StartRun(c.Request.Context(), req.RunID, req.Labware)
	h.reply(c, http.StatusCreated, run, res, err)
}

// normaliseLabware fills location URIs a client left implicit.
func normaliseLabware(lw *domain.LabwareGeometryDetails) {
	if lw.Default.Location.DefinitionURI == "" {
		lw.Default.Location.DefinitionURI = lw.DefinitionURI
	}
	for i := range lw.LocationSpecific {
		if lw.LocationSpecific[i].Location.DefinitionURI == "" {
			lw.LocationSpecific[i].Location.DefinitionURI = lw.DefinitionURI
		}
	}
}

func (h *Handler) getRun(c *gin.Context) {
	run, ok := h.svc.Run(c.Param("id"))
	if !ok {
		h.fail(c, domain.ErrRunNotFound, domain.Result{})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) finishRun(c *gin.Context) {
	run, err := h.svc.FinishRun(c.Request.Context(), c.Param("id"))
	if err == nil {
		h.forgetPosition(run.RunID)
	}
	h.reply(c, http.StatusOK, run, domain.Result{}, err)
}

func (h *Handler) report(c *gin.Context) {
	run, ok := h.svc.Run(c.Param("id"))
	if !ok {
		h.fail(c, domain.ErrRunNotFound, domain.Result{})
		return
	}
	c.JSON(http.StatusOK, exports.BuildReport(run, h.clock.Now()))
}

type selectLabwareRequest struct {
	URI string `json:"uri" binding:"required"`
	ID  string `json:"id"`
}

func (h *Handler) selectLabware(c *gin.Context) {
	var req selectLabwareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	run, res, err := h.svc.SelectLabware(c.Request.Context(), c.Param("id"), req.URI, req.ID)
	h.reply(c, http.StatusOK, run, res, err)
}

type locationRequest struct {
	Location domain.LocationRecord `json:"location" binding:"required"`
}

func bindLocation(c *gin.Context) (domain.OffsetLocation, bool) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return nil, false
	}
	loc, err := req.Location.Location()
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	return loc, true
}

func (h *Handler) selectLocation(c *gin.Context) {
	loc, ok := bindLocation(c)
	if !ok {
		return
	}
	run, res, err := h.svc.SelectLocation(c.Request.Context(), c.Param("id"), loc)
	h.reply(c, http.StatusOK, run, res, err)
}

func (h *Handler) clearSelection(c *gin.Context) {
	run, res, err := h.svc.ClearSelection(c.Request.Context(), c.Param("id"))
	h.reply(c, http.StatusOK, run, res, err)
}

type stepRequest struct {
	Step domain.Step `json:"step" binding:"required"`
}

func (h *Handler) proceedToStep(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	run, res, err := h.svc.ProceedToStep(c.Request.Context(), c.Param("id"), req.Step)
	h.reply(c, http.StatusOK, run, res, err)
}

type positionRequest struct {
	Location domain.LocationRecord `json:"location" binding:"required"`
	// Position defaults to the position returned by the run's latest jog.
	Position *domain.Vector3 `json:"position"`
}

func (h *Handler) recordPosition(op func(context.Context, string, core.OffsetLocation, core.Vector3) (core.RunState, domain.Result, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req positionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		loc, err := req.Location.Location()
		if err != nil {
			badRequest(c, err)
			return
		}
		runID := c.Param("id")
		pos, ok := h.position(runID, req.Position)
		if !ok {
			badRequest(c, errNoPosition)
			return
		}
		run, res, err := op(c.Request.Context(), runID, loc, pos)
		h.reply(c, http.StatusOK, run, res, err)
	}
}

func (h *Handler) position(runID string, given *domain.Vector3) (domain.Vector3, bool) {
	if given != nil {
		return *given, true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	pos, ok := h.positions[runID]
	return pos, ok
}

func (h *Handler) rememberPosition(runID string, pos domain.Vector3) {
	h.mu.Lock()
	h.positions[runID] = pos
	h.mu.Unlock()
}

func (h *Handler) forgetPosition(runID string) {
	h.mu.Lock()
	delete(h.positions, runID)
	h.mu.Unlock()
}

func (h *Handler) resetLocation(c *gin.Context) {
	loc, ok := bindLocation(c)
	if !ok {
		return
	}
	run, res, err := h.svc.ResetLocationToDefault(c.Request.Context(), c.Param("id"), loc)
	h.reply(c, http.StatusOK, run, res, err)
}

func (h *Handler) jogPipette(c *gin.Context) {
	if h.jog == nil {
		h.unavailable(c, "jog")
		return
	}
	if _, ok := h.svc.Run(c.Param("id")); !ok {
		h.fail(c, domain.ErrRunNotFound, domain.Result{})
		return
	}
	var req domain.Jog
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	runID := c.Param("id")
	pos, err := h.jog.Do(c.Request.Context(), req)
	if err != nil {
		h.forgetPosition(runID)
		h.fail(c, err, domain.Result{})
		return
	}
	h.rememberPosition(runID, pos)
	c.JSON(http.StatusOK, gin.H{"position": pos})
}

type exportRequest struct {
	Formats     []exports.Format `json:"formats"`
	RequestedBy string           `json:"requestedBy"`
}

func (h *Handler) enqueueExport(c *gin.Context) {
	if h.exports == nil {
		h.unavailable(c, "exports")
		return
	}
	var req exportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	rec, err := h.exports.Enqueue(c.Request.Context(), exports.Input{RunID: c.Param("id"), Formats: req.Formats, RequestedBy: req.RequestedBy})
	if err != nil {
		h.fail(c, err, domain.Result{})
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

func (h *Handler) listExports(c *gin.Context) {
	if h.exports == nil {
		h.unavailable(c, "exports")
		return
	}
	c.JSON(http.StatusOK, gin.H{"exports": h.exports.List(c.Param("id"))})
}

func (h *Handler) getExport(c *gin.Context) {
	if h.exports == nil {
		h.unavailable(c, "exports")
		return
	}
	rec, ok := h.exports.Get(c.Param("exportId"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "export not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type commandsRequest struct {
	Commands          []domain.Command `json:"commands" binding:"required"`
	ContinueOnFailure bool             `json:"continueOnFailure"`
}

func (h *Handler) runCommands(c *gin.Context) {
	if h.commands == nil {
		h.unavailable(c, "commands")
		return
	}
	var req commandsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	results, err := h.commands.RunCommands(c.Request.Context(), req.Commands, req.ContinueOnFailure)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusUnprocessableEntity
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "results": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) unavailable(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: what + ": " + errUnavailable.Error()})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
