package cmd

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   string
	BuildTime string
	cfgFile   string
)

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "API usage metering and audit proxy",
	Long: `Tracker issues API keys, forwards requests to a configured upstream API,
meters every call in MongoDB and anchors a fingerprint of each request
on an EVM ledger contract.`,
	PreRunE: bindServerFlags,
	RunE:    runServe, // 默认执行serve
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	rootCmd.Version = fmt.Sprintf("%s (built %s)", Version, BuildTime)
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局标志
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	// 服务器标志（直接在root命令使用）
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().String("mode", "release", "server mode (debug/release/test)")
}

func initConfig() {
	// .env为本地开发提供密钥注入
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.tracker")
	}

	// 环境变量：TRACKER_LEDGER_PRIVATE_KEY -> ledger.private_key
	viper.SetEnvPrefix("TRACKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 注册键，使环境变量在没有配置文件时也能生效
	viper.SetDefault("security.enable_cors", true)
	viper.SetDefault("mongo.uri", "")
	viper.SetDefault("mongo.database", "")
	viper.SetDefault("upstream.base_url", "")
	viper.SetDefault("ledger.rpc_url", "")
	viper.SetDefault("ledger.contract_address", "")
	viper.SetDefault("ledger.private_key", "")
	viper.SetDefault("ledger.chain_id", int64(0))

	// 尝试读取配置文件
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
