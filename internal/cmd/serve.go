package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/config"
	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/ledger"
	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/logger"
	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/server"
	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the usage tracking proxy server",
	Long:    `Start the HTTP server with key registration, metered proxying and usage reporting`,
	PreRunE: bindServerFlags,
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().Int("port", 8080, "server port")
	serveCmd.Flags().String("mode", "release", "server mode (debug/release/test)")
}

// bindServerFlags rebinds the server flags to the invoked command's
// flag set. Root and serve define the same flags, and viper keeps a
// single binding per key.
func bindServerFlags(cmd *cobra.Command, _ []string) error {
	for key, name := range map[string]string{
		"server.host": "host",
		"server.port": "port",
		"server.mode": "mode",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 初始化日志
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting usage tracker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.BaseURL),
	)

	// 连接MongoDB，启动时必须可用
	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
	store, err := storage.Connect(connectCtx, storage.Options{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
		OpTimeout:      cfg.Mongo.OpTimeout,
	})
	connectCancel()
	if err != nil {
		log.Error("Failed to connect to MongoDB", zap.Error(err))
		return err
	}
	defer store.Close(context.Background())

	if err := store.EnsureIndexes(context.Background()); err != nil {
		log.Error("Failed to ensure indexes", zap.Error(err))
		return err
	}

	// 账本客户端懒连接，RPC不可达不阻塞启动
	ledgerClient, err := ledger.New(context.Background(), ledger.Options{
		RPCURL:          cfg.Ledger.RPCURL,
		ContractAddress: cfg.Ledger.ContractAddress,
		PrivateKey:      cfg.Ledger.PrivateKey,
		ChainID:         cfg.Ledger.ChainID,
		ConfirmTimeout:  cfg.Ledger.ConfirmTimeout,
	}, log)
	if err != nil {
		log.Error("Failed to initialize ledger client", zap.Error(err))
		return err
	}
	defer ledgerClient.Close()

	// 创建服务器
	srv, err := server.New(cfg, log, store, ledgerClient)
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		return err
	}

	// 启动HTTP服务器
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 优雅关闭
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("Server started", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-stop
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("Server stopped gracefully")
	return nil
}
