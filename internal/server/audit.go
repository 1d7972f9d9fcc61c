package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/fingerprint"
)

// handleAudit reports the on-chain watermark for a key: the timestamp
// of its newest anchored usage record. A key that was never anchored
// reports zero.
func (s *Server) handleAudit(c *gin.Context) {
	key := clientKey(c)
	keyHash := fingerprint.Key(key)

	lastSeen, err := s.ledger.LastSeenAt(c.Request.Context(), keyHash)
	if err != nil {
		s.logger.Warn("Watermark query failed",
			zap.Error(err),
			zap.String("api_key_hash", keyHash.Hex()))
		respondError(c, http.StatusBadGateway, errLedger, "could not query the ledger")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"apiKeyHash": keyHash.Hex(),
			"lastSeenAt": lastSeen,
		},
	})
}
