package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/fingerprint"
	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/ledger"
	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/models"
	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/storage"
)

// handleProxy validates the caller's key, forwards the request to the
// configured upstream, then records the call in the store and on the
// ledger. The client response always mirrors the upstream outcome;
// bookkeeping failures are reported in the audit block, never as a
// downgraded status.
func (s *Server) handleProxy(c *gin.Context) {
	key := clientKey(c)

	rec, err := s.store.FindActiveKey(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Rejected unknown API key",
				logKeyField(key),
				zap.String("client_ip", c.ClientIP()))
			respondError(c, http.StatusForbidden, errInvalidKey, "API key is unknown or inactive")
			return
		}
		s.logger.Error("API key lookup failed", zap.Error(err), logKeyField(key))
		respondError(c, http.StatusInternalServerError, errStoreUnavailable, "could not validate the API key")
		return
	}

	endpoint := c.Query(paramEndpoint)
	if endpoint == "" {
		respondError(c, http.StatusBadRequest, errMissingEndpoint, "endpoint query parameter is required")
		return
	}
	tag := c.DefaultQuery(paramTag, defaultTag)

	params := forwardParams(c.Request.URL.Query())

	var body []byte
	if methodCarriesBody(c.Request.Method) {
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			respondError(c, http.StatusBadRequest, errBadRequest, "could not read the request body")
			return
		}
	}

	reqHash, err := fingerprint.Request(c.Request.Method, endpoint, params, body)
	if err != nil {
		s.logger.Error("Failed to fingerprint request", zap.Error(err))
		respondError(c, http.StatusInternalServerError, errInternal, "could not fingerprint the request")
		return
	}

	resp, upstreamBody, ok := s.forwardUpstream(c, endpoint, params, body)
	if !ok {
		return
	}

	now := time.Now().UTC()

	// Post-forward bookkeeping runs on a fresh context so it finishes
	// even if the client goes away.
	entry := &models.UsageLogEntry{
		RequestID:          uuid.New().String(),
		Key:                rec.Key,
		OwnerID:            rec.OwnerID,
		Method:             c.Request.Method,
		Endpoint:           endpoint,
		Params:             params,
		Status:             resp.StatusCode,
		RequestFingerprint: reqHash,
		Tag:                tag,
		CreatedAt:          now,
	}
	if err := s.store.RecordUsage(context.Background(), entry); err != nil {
		s.logger.Warn("Failed to record usage", zap.Error(err), logKeyField(key))
	}

	audit := s.anchorUsage(key, reqHash, tag, now)

	data := decodeUpstreamBody(upstreamBody)
	if resp.StatusCode >= 400 {
		c.JSON(resp.StatusCode, models.ProxyResponse{
			Success: false,
			Error:   errUpstream,
			Message: fmt.Sprintf("upstream returned status %d", resp.StatusCode),
			Data:    data,
			Audit:   audit,
		})
		return
	}

	c.JSON(resp.StatusCode, models.ProxyResponse{
		Success: true,
		Data:    data,
		Audit:   audit,
	})
}

// forwardUpstream performs the upstream round trip. On failure it
// writes the error response and returns ok=false; nothing is persisted
// for a request that never produced an upstream outcome.
func (s *Server) forwardUpstream(c *gin.Context, endpoint string, params map[string]string, body []byte) (*http.Response, []byte, bool) {
	upstreamURL := joinUpstreamURL(s.cfg.Upstream.BaseURL, endpoint, params)

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, upstreamURL, bodyReader)
	if err != nil {
		s.logger.Error("Failed to build upstream request",
			zap.Error(err),
			zap.String("url", upstreamURL))
		respondError(c, http.StatusBadGateway, errProxyFailed, "could not build the upstream request")
		return nil, nil, false
	}
	if len(body) > 0 {
		contentType := c.ContentType()
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.upstream.Do(req)
	if err != nil {
		if isTimeout(err) {
			s.logger.Warn("Upstream request timed out",
				zap.String("endpoint", endpoint),
				zap.Duration("timeout", s.cfg.Upstream.Timeout))
			respondError(c, http.StatusGatewayTimeout, errUpstreamTimeout, "upstream did not answer in time")
			return nil, nil, false
		}
		s.logger.Warn("Upstream request failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		respondError(c, http.StatusBadGateway, errProxyFailed, "could not reach the upstream API")
		return nil, nil, false
	}
	defer resp.Body.Close()

	upstreamBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Warn("Upstream response read failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		respondError(c, http.StatusBadGateway, errProxyFailed, "could not read the upstream response")
		return nil, nil, false
	}

	return resp, upstreamBody, true
}

// anchorUsage submits the usage record to the ledger. Submission is
// best effort; the outcome lands in the audit block either way.
func (s *Server) anchorUsage(key, reqHash, tag string, now time.Time) *models.AuditInfo {
	keyHash := fingerprint.Key(key)
	audit := &models.AuditInfo{
		APIKeyHash:  keyHash.Hex(),
		RequestHash: reqHash,
		Timestamp:   now.Unix(),
		Tag:         tag,
	}

	receipt, err := s.ledger.Submit(context.Background(), ledger.Submission{
		APIKeyHash:  keyHash,
		RequestHash: common.HexToHash(reqHash),
		Timestamp:   now.Unix(),
		Tag:         tag,
	})
	if err != nil {
		audit.Error = err.Error()
		s.logger.Warn("Ledger submission failed",
			zap.Error(err),
			zap.String("api_key_hash", audit.APIKeyHash))
		return audit
	}

	audit.TxHash = receipt.TxHash.Hex()
	s.logger.Info("Usage anchored on ledger",
		zap.String("tx_hash", audit.TxHash),
		zap.Uint64("block", receipt.BlockNumber))
	return audit
}

// forwardParams strips the reserved control parameters and keeps the
// first value of everything else.
func forwardParams(query url.Values) map[string]string {
	params := make(map[string]string, len(query))
	for name, values := range query {
		switch name {
		case paramKey, paramEndpoint, paramTag:
			continue
		}
		if len(values) > 0 {
			params[name] = values[0]
		}
	}
	return params
}

// joinUpstreamURL glues the configured base and the requested endpoint
// with exactly one slash and appends the forwarded parameters.
func joinUpstreamURL(base, endpoint string, params map[string]string) string {
	full := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) == 0 {
		return full
	}
	q := url.Values{}
	for name, value := range params {
		q.Set(name, value)
	}
	return full + "?" + q.Encode()
}

// methodCarriesBody reports whether the request body is forwarded
func methodCarriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// isTimeout distinguishes an upstream deadline from other transport
// failures
func isTimeout(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}

// decodeUpstreamBody keeps JSON replies as JSON and anything else as a
// plain string
func decodeUpstreamBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
