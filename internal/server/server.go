package server

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/config"
	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/ledger"
	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/models"
)

// Error codes carried in the uniform error envelope.
const (
	errMissingKey       = "missing_key"
	errInvalidKey       = "invalid_key"
	errMissingEndpoint  = "missing_endpoint"
	errBadRequest       = "bad_request"
	errUpstreamTimeout  = "upstream_timeout"
	errProxyFailed      = "proxy_failed"
	errStoreUnavailable = "store_unavailable"
	errUpstream         = "upstream_error"
	errLedger           = "ledger_unavailable"
	errInternal         = "internal_error"
)

// Reserved query parameters consumed by the proxy itself. Everything
// else is forwarded upstream.
const (
	paramKey      = "key"
	paramEndpoint = "endpoint"
	paramTag      = "tag"

	headerAPIKey = "x-api-key"
	defaultTag   = "proxy:v1"

	ctxAPIKey = "api_key"
)

// Store is the persistence surface the server depends on
type Store interface {
	InsertKey(ctx context.Context, rec *models.ApiKeyRecord) error
	FindActiveKey(ctx context.Context, key string) (*models.ApiKeyRecord, error)
	RecordUsage(ctx context.Context, entry *models.UsageLogEntry) error
	CounterTotal(ctx context.Context, key string) (int64, error)
	RecentLogs(ctx context.Context, key string, limit int64) ([]models.UsageLogEntry, error)
}

// Ledger is the on-chain anchoring surface the server depends on
type Ledger interface {
	Submit(ctx context.Context, sub ledger.Submission) (*ledger.Receipt, error)
	LastSeenAt(ctx context.Context, apiKeyHash common.Hash) (uint64, error)
}

// Server represents the API server
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	store    Store
	ledger   Ledger
	upstream *http.Client
}

// New creates a new server instance
func New(cfg *config.Config, logger *zap.Logger, store Store, ledgerClient Ledger) (*Server, error) {
	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: gin.New(),
		store:  store,
		ledger: ledgerClient,
		upstream: &http.Client{
			Timeout: cfg.Upstream.Timeout,
		},
	}

	// 设置中间件
	s.setupMiddleware()

	// 设置路由
	s.setupRoutes()

	return s, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Logger middleware
	s.router.Use(s.loggerMiddleware())

	// CORS middleware
	if s.cfg.Security.EnableCORS {
		s.router.Use(s.corsMiddleware())
	}
}

func (s *Server) setupRoutes() {
	// 根路径返回简单状态
	s.router.GET("/", func(c *gin.Context) {
		c.String(200, "ok")
	})

	// 健康检查
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ping", s.ping)

	// 密钥注册
	s.router.GET("/register", s.handleRegister)
	s.router.POST("/register", s.handleRegister)

	// 需要API Key的路由
	authed := s.router.Group("/")
	authed.Use(s.apiKeyMiddleware())
	{
		authed.GET("/proxy", s.handleProxy)
		authed.POST("/proxy", s.handleProxy)
		authed.PUT("/proxy", s.handleProxy)
		authed.PATCH("/proxy", s.handleProxy)
		authed.DELETE("/proxy", s.handleProxy)

		authed.GET("/usage", s.handleUsage)
		authed.GET("/audit", s.handleAudit)
	}
}

// 基础handlers
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}

// respondError writes the uniform error envelope
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.APIError{
		Success: false,
		Error:   code,
		Message: message,
	})
}

// abortError writes the uniform error envelope and stops the chain
func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.APIError{
		Success: false,
		Error:   code,
		Message: message,
	})
}
