package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"zeroledger/internal/ml_client"
)

// ClassifierInfo is satisfied by *ml_client.Client.
type ClassifierInfo interface {
	GetModelInfo(ctx context.Context) (*ml_client.ModelInfo, error)
}

// GeneratorInfo is satisfied by every llm.Provider.
type GeneratorInfo interface {
	GetModelInfo() map[string]interface{}
}

// ModelsHandler reports the models behind classification and resolution.
type ModelsHandler struct {
	classifier ClassifierInfo
	generator  GeneratorInfo
	timeout    time.Duration
}

func NewModelsHandler(classifier ClassifierInfo, generator GeneratorInfo) *ModelsHandler {
	return &ModelsHandler{classifier: classifier, generator: generator, timeout: 3 * time.Second}
}

func (h *ModelsHandler) RegisterRoutes(g gin.IRoutes) {
	g.GET("/models", h.GetModels)
}

// GetModels handles GET /api/v1/models. An unreachable classifier is
// reported in the body, not as an error status.
func (h *ModelsHandler) GetModels(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	classifier := gin.H{"reachable": true}
	if info, err := h.classifier.GetModelInfo(ctx); err != nil {
		classifier = gin.H{"reachable": false, "error": err.Error()}
	} else {
		classifier["model"] = info
	}

	generator := map[string]interface{}{}
	if h.generator != nil {
		generator = h.generator.GetModelInfo()
	}

	c.JSON(http.StatusOK, gin.H{
		"classifier": classifier,
		"generator":  generator,
	})
}
