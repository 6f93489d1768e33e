package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Runner starts and cancels ingestion runs; *orchestrator.Orchestrator implements it
type Runner interface {
	Run(ctx context.Context, scope models.Scope) (*models.IngestionRun, error)
	Cancel(runID string) bool
}

// RunStore reads recorded runs; *gateway.Gateway implements it
type RunStore interface {
	GetRun(ctx context.Context, id string) (*models.IngestionRun, error)
}

// Handler handles ingestion API endpoints
type Handler struct {
	runner   Runner
	runs     RunStore
	validate *validator.Validate
	logger   ectologger.Logger
}

// NewHandler creates a new ingest handler
func NewHandler(runner Runner, runs RunStore, validate *validator.Validate, logger ectologger.Logger) *Handler {
	return &Handler{
		runner:   runner,
		runs:     runs,
		validate: validate,
		logger:   logger,
	}
}

// Register registers the ingest routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/ingest", h.Ingest)
	g.GET("/ingest/runs/:id", h.GetRun)
	g.POST("/ingest/runs/:id/cancel", h.CancelRun)
}

// Ingest runs an ingestion for the requested scope and reports its outcome
func (h *Handler) Ingest(c echo.Context) error {
	ctx := c.Request().Context()

	var scope models.Scope
	if err := c.Bind(&scope); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	scope = scope.Normalize()
	if err := h.validateScope(scope); err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"scope": scope.Key(),
	}).Info("Ingestion requested")

	// a dropped connection must not abort the run; CancelRun is the only way to stop it
	run, err := h.runner.Run(context.WithoutCancel(ctx), scope)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, run.ToResponse())
}

// GetRun returns a recorded run with every item outcome
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.runs.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun asks an active run to stop after its current batch
func (h *Handler) CancelRun(c echo.Context) error {
	id := c.Param("id")
	if !h.runner.Cancel(id) {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s is not active", id))
	}

	h.logger.WithContext(c.Request().Context()).WithFields(map[string]any{
		"run_id": id,
	}).Info("Ingestion cancellation requested")
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

func (h *Handler) validateScope(scope models.Scope) error {
	if err := h.validate.Struct(scope); err != nil {
		var problems []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid scope: "+strings.Join(problems, ", "))
	}
	if scope.Level != models.LevelFederal && scope.State == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("state is required for %s scopes", scope.Level))
	}
	return nil
}
