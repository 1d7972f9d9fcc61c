package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/models"
)

const defaultOwnerID = "anonymous"

// handleRegister mints a fresh API key and binds it to an owner. The
// owner id comes from the userId query parameter, or the JSON body on
// POST, and falls back to "anonymous".
func (s *Server) handleRegister(c *gin.Context) {
	ownerID := c.Query("userId")
	if ownerID == "" && c.Request.Method == http.MethodPost {
		var body struct {
			UserID string `json:"userId"`
		}
		if err := c.ShouldBindJSON(&body); err == nil {
			ownerID = body.UserID
		}
	}
	if ownerID == "" {
		ownerID = defaultOwnerID
	}

	key, err := generateKey()
	if err != nil {
		s.logger.Error("Failed to generate API key", zap.Error(err))
		respondError(c, http.StatusInternalServerError, errInternal, "could not generate an API key")
		return
	}

	rec := &models.ApiKeyRecord{
		Key:       key,
		OwnerID:   ownerID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertKey(c.Request.Context(), rec); err != nil {
		s.logger.Error("Failed to persist API key",
			zap.Error(err),
			zap.String("owner_id", ownerID))
		respondError(c, http.StatusInternalServerError, errStoreUnavailable, "could not persist the new API key")
		return
	}

	s.logger.Info("API key issued",
		logKeyField(key),
		zap.String("owner_id", ownerID))

	c.JSON(http.StatusOK, models.RegisterResponse{
		Success: true,
		APIKey:  key,
		UserID:  ownerID,
		Message: "API key issued. Keep it secret; it cannot be recovered.",
	})
}

// generateKey returns 32 bytes from crypto/rand as lowercase hex
func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
