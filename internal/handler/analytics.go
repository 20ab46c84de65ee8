package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"zeroledger/internal/apperr"
)

// AnalyticsHandler serves the aggregate snapshot. Every response is read
// from a single snapshot so the parts of one answer agree.
type AnalyticsHandler struct {
	svc Triage
}

func NewAnalyticsHandler(svc Triage) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

func (h *AnalyticsHandler) RegisterRoutes(g gin.IRoutes) {
	g.GET("/analytics/snapshot", h.GetSnapshot)
	g.GET("/analytics/categories", h.GetCategories)
	g.GET("/analytics/timely", h.GetTimely)
	g.GET("/analytics/regions", h.GetRegions)
	g.GET("/analytics/categories/:name/trend", h.GetTrend)
	g.GET("/analytics/coverage", h.GetCoverage)
	g.GET("/analytics/outcomes", h.GetOutcomes)
}

const (
	defaultTrendMonths = 12
	maxTrendMonths     = 120
)

// GetSnapshot handles GET /api/v1/analytics/snapshot
func (h *AnalyticsHandler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Snapshot())
}

// GetCategories handles GET /api/v1/analytics/categories?top=N
func (h *AnalyticsHandler) GetCategories(c *gin.Context) {
	top := 0
	if raw := c.Query("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top must be a non-negative integer"})
			return
		}
		top = n
	}

	snap := h.svc.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"snapshot_id":   snap.ID,
		"as_of":         snap.AsOf,
		"total_records": snap.TotalRecords,
		"categories":    snap.TopCategories(top),
	})
}

// GetTimely handles GET /api/v1/analytics/timely
func (h *AnalyticsHandler) GetTimely(c *gin.Context) {
	snap := h.svc.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"snapshot_id": snap.ID,
		"as_of":       snap.AsOf,
		"timely":      snap.Timely,
	})
}

// GetRegions handles GET /api/v1/analytics/regions
func (h *AnalyticsHandler) GetRegions(c *gin.Context) {
	snap := h.svc.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"snapshot_id": snap.ID,
		"as_of":       snap.AsOf,
		"regions":     snap.Regions,
		"unmapped":    snap.Unmapped,
	})
}

// GetTrend handles GET /api/v1/analytics/categories/:name/trend?months=N
func (h *AnalyticsHandler) GetTrend(c *gin.Context) {
	months := defaultTrendMonths
	if raw := c.Query("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTrendMonths {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("months must be between 1 and %d", maxTrendMonths)})
			return
		}
		months = n
	}
	c.JSON(http.StatusOK, h.svc.Trend(c.Param("name"), months))
}

// GetCoverage handles GET /api/v1/analytics/coverage
func (h *AnalyticsHandler) GetCoverage(c *gin.Context) {
	cov, err := h.svc.Coverage(c.Request.Context())
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cov)
}

// GetOutcomes handles GET /api/v1/analytics/outcomes
func (h *AnalyticsHandler) GetOutcomes(c *gin.Context) {
	out, err := h.svc.Outcomes(c.Request.Context())
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}
