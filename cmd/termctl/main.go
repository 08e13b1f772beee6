package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/client"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/logging"
)

var rootCmd = &cobra.Command{
	Use:   "termctl",
	Short: "Control a termbroker server",
	Long: `termctl lists, drives and attaches to the shell sessions of a
termbroker server.

The server address comes from --server or $TERMBROKER_URL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	serverURL string
	timeout   time.Duration
	verbose   bool
)

func init() {
	defaultURL := os.Getenv("TERMBROKER_URL")
	if defaultURL == "" {
		defaultURL = client.DefaultConfig().BaseURL
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "Server base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests to stderr")
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	return logging.NewDevelopment().Logger
}

func newClient() *client.Client {
	return client.New(client.Config{
		BaseURL:  serverURL,
		Timeout:  timeout,
		RetryMax: 3,
		Logger:   newLogger(),
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
