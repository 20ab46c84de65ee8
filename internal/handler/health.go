package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"zeroledger/internal/circuitbreaker"
	"zeroledger/internal/ml_client"
)

// ClassifierHealth is satisfied by *ml_client.Client.
type ClassifierHealth interface {
	HealthCheck(ctx context.Context) (*ml_client.HealthResponse, error)
}

// HealthHandler reports classifier reachability and breaker states.
type HealthHandler struct {
	classifier ClassifierHealth
	breakers   []*circuitbreaker.Breaker
	timeout    time.Duration
}

func NewHealthHandler(classifier ClassifierHealth, breakers ...*circuitbreaker.Breaker) *HealthHandler {
	return &HealthHandler{classifier: classifier, breakers: breakers, timeout: 3 * time.Second}
}

// HealthCheck handles GET /health. The service stays up while a dependency
// is down, so the answer is 200 with status degraded.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := "ok"
	classifier := gin.H{"reachable": true}
	if res, err := h.classifier.HealthCheck(ctx); err != nil {
		status = "degraded"
		classifier = gin.H{"reachable": false, "error": err.Error()}
	} else {
		classifier["status"] = res.Status
		classifier["model_loaded"] = res.ModelLoaded
		if !res.ModelLoaded {
			status = "degraded"
		}
	}

	breakers := make([]circuitbreaker.Stats, 0, len(h.breakers))
	for _, b := range h.breakers {
		stats := b.GetStats()
		if stats.State != circuitbreaker.StateClosed.String() {
			status = "degraded"
		}
		breakers = append(breakers, stats)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"classifier": classifier,
		"breakers":   breakers,
	})
}

// ResetBreaker handles POST /api/v1/breakers/:name/reset
func (h *HealthHandler) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	for _, b := range h.breakers {
		if b.Name() == name {
			b.Reset()
			c.JSON(http.StatusOK, b.GetStats())
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown breaker " + name})
}
