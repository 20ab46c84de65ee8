package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"zeroledger/internal/apperr"
	"zeroledger/internal/models"
	"zeroledger/internal/service"
)

// Triage is the service surface used by the HTTP layer.
type Triage interface {
	Classify(ctx context.Context, complaintID, narrative string) (*models.ClassificationResult, error)
	Resolve(ctx context.Context, complaint models.ComplaintRecord, classification *models.ClassificationResult) (*models.ResolutionRecord, error)
	Triage(ctx context.Context, complaintID, narrative string) (*service.TriageResult, error)
	IngestComplaints(ctx context.Context, raws []models.RawRecord) (*service.IngestReport, error)
	Snapshot() *models.AggregateSnapshot
	Trend(category string, months int) models.CategoryTrend
	Complaint(ctx context.Context, id string) (*models.ComplaintRecord, error)
	Events(ctx context.Context, complaintID string) ([]models.TriageEvent, error)
	Coverage(ctx context.Context) (*service.Coverage, error)
	Outcomes(ctx context.Context) (*service.Outcomes, error)
	Labels() []models.Label
}

// NarrativeRequest is the body of classify and triage calls.
type NarrativeRequest struct {
	ComplaintID string `json:"complaint_id"`
	Narrative   string `json:"narrative" binding:"required"`
}

// ResolveRequest carries the complaint and the classification to resolve.
type ResolveRequest struct {
	Complaint struct {
		ID        string `json:"id"`
		Narrative string `json:"narrative" binding:"required"`
	} `json:"complaint"`
	Classification *models.ClassificationResult `json:"classification" binding:"required"`
}

// TriageHandler serves the interactive triage endpoints.
type TriageHandler struct {
	svc    Triage
	logger *zap.Logger
}

func NewTriageHandler(svc Triage, logger *zap.Logger) *TriageHandler {
	return &TriageHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the triage routes on g.
func (h *TriageHandler) RegisterRoutes(g gin.IRoutes) {
	g.POST("/classify", h.Classify)
	g.POST("/resolve", h.Resolve)
	g.POST("/triage", h.Triage)
	g.POST("/complaints", h.IngestComplaints)
	g.GET("/complaints/:id", h.GetComplaint)
	g.GET("/complaints/:id/events", h.GetEvents)
	g.GET("/labels", h.Labels)
}

// Classify handles POST /api/v1/classify
func (h *TriageHandler) Classify(c *gin.Context) {
	var req NarrativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.Classify(c.Request.Context(), req.ComplaintID, req.Narrative)
	if err != nil {
		h.fail(c, "classify", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Resolve handles POST /api/v1/resolve
func (h *TriageHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	complaint := models.ComplaintRecord{ID: req.Complaint.ID, Narrative: req.Complaint.Narrative}
	resolution, err := h.svc.Resolve(c.Request.Context(), complaint, req.Classification)
	if err != nil {
		h.fail(c, "resolve", err)
		return
	}
	c.JSON(http.StatusOK, resolution)
}

// Triage handles POST /api/v1/triage
func (h *TriageHandler) Triage(c *gin.Context) {
	var req NarrativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.Triage(c.Request.Context(), req.ComplaintID, req.Narrative)
	if err != nil {
		h.fail(c, "triage", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// IngestComplaints handles POST /api/v1/complaints with a JSON array of raw
// records.
func (h *TriageHandler) IngestComplaints(c *gin.Context) {
	var raws []models.RawRecord
	if err := c.ShouldBindJSON(&raws); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(raws) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no records submitted"})
		return
	}

	report, err := h.svc.IngestComplaints(c.Request.Context(), raws)
	if err != nil {
		h.fail(c, "ingest", err)
		return
	}
	c.JSON(http.StatusAccepted, report)
}

// GetComplaint handles GET /api/v1/complaints/:id
func (h *TriageHandler) GetComplaint(c *gin.Context) {
	rec, err := h.svc.Complaint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get complaint", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetEvents handles GET /api/v1/complaints/:id/events
func (h *TriageHandler) GetEvents(c *gin.Context) {
	id := c.Param("id")
	events, err := h.svc.Events(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "list events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"complaint_id": id, "events": events})
}

// Labels handles GET /api/v1/labels
func (h *TriageHandler) Labels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"labels": h.svc.Labels()})
}

func (h *TriageHandler) fail(c *gin.Context, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Debug("Request rejected", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
