package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/models"
)

// recentLogLimit caps the history slice in usage reports
const recentLogLimit = 10

// handleUsage reports the running total and recent history for a key.
// The key is not checked against the key store; a key that was never
// used simply reports zero usage. The full key never appears in the
// response.
func (s *Server) handleUsage(c *gin.Context) {
	key := clientKey(c)
	ctx := c.Request.Context()

	total, err := s.store.CounterTotal(ctx, key)
	if err != nil {
		s.logger.Error("Failed to load usage counter", zap.Error(err), logKeyField(key))
		respondError(c, http.StatusInternalServerError, errStoreUnavailable, "could not load usage data")
		return
	}

	logs, err := s.store.RecentLogs(ctx, key, recentLogLimit)
	if err != nil {
		s.logger.Error("Failed to load usage logs", zap.Error(err), logKeyField(key))
		respondError(c, http.StatusInternalServerError, errStoreUnavailable, "could not load usage data")
		return
	}

	c.JSON(http.StatusOK, models.UsageResponse{
		Success: true,
		Data: models.UsageReport{
			APIKey:     models.Mask(key),
			TotalUsage: total,
			RecentLogs: logs,
		},
	})
}
