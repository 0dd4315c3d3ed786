package consumer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/logger"
	"herald/internal/registry"
)

func TestGetAgentReturnsLastBeat(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hb := registry.NewHeartbeater(registry.NewMemoryStore(), registry.Agent{
		ServiceID:  "consumer-a",
		InstanceID: "pod-1",
		Topics:     []string{"orders"},
		Groups:     []string{"billing"},
	}, time.Second, 3*time.Second, logger.NopLogger())
	require.NoError(t, hb.Beat(context.Background()))

	router := gin.New()
	NewAgentHandler(hb).RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agent", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got registry.Agent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "consumer-a", got.ServiceID)
	assert.Equal(t, []string{"billing"}, got.Groups)
	assert.False(t, got.LastHeartbeat.IsZero())
}
