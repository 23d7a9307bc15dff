package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/campuskit/sage/pkg/config"
	"github.com/campuskit/sage/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "Campus assistant chat client",
	Long: `sage is a terminal client for the campus AI assistant.
Answers stream in as they are generated, with links to the campus
articles they were drawn from.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runChat(cmd.Context())
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.Close()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default searches ./.sage and the XDG config dir)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().StringP("server", "s", "", "backend base URL")
	viper.BindPFlag("server.base_url", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.PersistentFlags().Bool("stream", true, "stream answers incrementally")
	viper.BindPFlag("chat.streaming", rootCmd.PersistentFlags().Lookup("stream"))

	rootCmd.PersistentFlags().Bool("show-thinking", true, "show elapsed time while waiting for an answer")
	viper.BindPFlag("chat.show_thinking", rootCmd.PersistentFlags().Lookup("show-thinking"))
}

func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile, cfg.Logging.Preserve); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
}
