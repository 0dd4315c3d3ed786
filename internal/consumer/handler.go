package consumer

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"herald/internal/registry"
)

// AgentSource yields this instance's current registry entry.
type AgentSource interface {
	Agent() registry.Agent
}

type AgentHandler struct {
	source AgentSource
}

func NewAgentHandler(source AgentSource) *AgentHandler {
	return &AgentHandler{source: source}
}

func (h *AgentHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/v1/agent", h.GetAgent)
}

// GetAgent godoc
// @Summary      This consumer instance
// @Description  Identity, topics and groups as published to the registry
// @Tags         agent
// @Produce      json
// @Success      200  {object}  registry.Agent
// @Router       /agent [get]
func (h *AgentHandler) GetAgent(c *gin.Context) {
	c.JSON(http.StatusOK, h.source.Agent())
}
