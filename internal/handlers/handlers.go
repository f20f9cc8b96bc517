package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stevedore/internal/models"
	"stevedore/internal/reconcile"
	"stevedore/internal/scrape"
	"stevedore/internal/store"
	"stevedore/pkg/logging"
	"stevedore/pkg/middleware"
)

// RunTimeout is the wall-clock ceiling for one reconciliation run. A stuck
// run fails fast instead of hanging indefinitely.
const RunTimeout = 10 * time.Minute

var (
	logger       logging.Logger
	orchestrator *reconcile.Orchestrator
	subjects     *store.SubjectStore
	runs         *store.RunStore
	snapshots    *store.SnapshotStore
	metrics      *StevedoreMetrics
)

// StevedoreMetrics holds all Prometheus metrics for the sync engine
type StevedoreMetrics struct {
	SyncRuns    *prometheus.CounterVec
	SyncItems   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	DBQueries   *prometheus.CounterVec
	DBDuration  *prometheus.HistogramVec
	DBConns     *prometheus.GaugeVec
}

// Init initializes the handlers with stores, the orchestrator, and metrics
func Init(log logging.Logger, orch *reconcile.Orchestrator, subjectStore *store.SubjectStore, runStore *store.RunStore, snapshotStore *store.SnapshotStore, m *StevedoreMetrics) {
	logger = log
	orchestrator = orch
	subjects = subjectStore
	runs = runStore
	snapshots = snapshotStore
	metrics = m
}

// ErrorResponse is the error envelope returned to API callers
type ErrorResponse struct {
	Error string `json:"error"`
}

// TriggerSync runs one reconciliation batch for a subject and returns the
// aggregate result. Fatal errors surface as success:false with a
// human-readable reason; per-item failures are inside the counts.
func TriggerSync(c middleware.Context) {
	subjectID := c.Param("subject_id")
	if subjectID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Subject ID required"})
		return
	}

	subject, err := subjects.Get(c.Request.Context(), subjectID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Subject not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load subject")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load subject"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), RunTimeout)
	defer cancel()

	start := time.Now()
	report, err := orchestrator.Run(ctx, *subject)
	duration := time.Since(start)

	if metrics != nil {
		metrics.RunDuration.WithLabelValues().Observe(duration.Seconds())
	}

	if err != nil {
		if metrics != nil {
			metrics.SyncRuns.WithLabelValues("error").Inc()
		}
		logger.WithError(err).WithField("subject_id", subjectID).Error("Sync run failed")
		c.JSON(http.StatusBadGateway, models.SyncResult{
			Success: false,
			Error:   userFacingReason(err),
		})
		return
	}

	if metrics != nil {
		metrics.SyncRuns.WithLabelValues("success").Inc()
		metrics.SyncItems.WithLabelValues(string(reconcile.OutcomeCreated)).Add(float64(report.Created))
		metrics.SyncItems.WithLabelValues(string(reconcile.OutcomeUpdated)).Add(float64(report.Updated))
		metrics.SyncItems.WithLabelValues(string(reconcile.OutcomeSkipped)).Add(float64(report.Skipped))
	}

	c.JSON(http.StatusOK, models.SyncResult{
		Success:        true,
		NewRecords:     report.Created,
		UpdatedRecords: report.Updated,
	})
}

// ListRuns returns the subject's most recent reconciliation runs
func ListRuns(c middleware.Context) {
	subjectID := c.Param("subject_id")
	if subjectID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Subject ID required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	recent, err := runs.ListRecent(c.Request.Context(), subjectID, limit)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch sync runs")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch sync runs"})
		return
	}

	c.JSON(http.StatusOK, middleware.H{"runs": recent})
}

// GetSnapshots returns a metric's daily snapshot series for trend charts
func GetSnapshots(c middleware.Context) {
	subjectID := c.Param("subject_id")
	if subjectID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Subject ID required"})
		return
	}

	metric := c.DefaultQuery("metric", reconcile.MetricTotalViews)
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	series, err := snapshots.Series(c.Request.Context(), subjectID, metric, days)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch snapshots")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch snapshots"})
		return
	}

	c.JSON(http.StatusOK, middleware.H{
		"subject_id": subjectID,
		"metric":     metric,
		"snapshots":  series,
	})
}

// userFacingReason maps run errors to messages safe to show the caller: no
// stack traces or internal identifiers.
func userFacingReason(err error) string {
	switch {
	case errors.Is(err, scrape.ErrBudgetExhausted):
		return "Daily scrape budget exhausted; try again tomorrow"
	case errors.Is(err, reconcile.ErrEmptyDataset):
		return "The scrape provider returned no content for this profile"
	case errors.Is(err, scrape.ErrRunFailed):
		return "The scrape provider could not complete the request"
	case errors.Is(err, context.DeadlineExceeded):
		return "Sync timed out; partial progress was kept"
	case errors.Is(err, context.Canceled):
		return "Sync was cancelled; partial progress was kept"
	default:
		return "Sync failed; see service logs for details"
	}
}
