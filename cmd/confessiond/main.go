package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/confession-pipeline/internal/config"
	"github.com/fpang/confession-pipeline/internal/logging"
)

// commitHash is set at build time via -ldflags "-X main.commitHash=...".
var commitHash = "dev"

// CLI flags
var configFlag string

// cfg is loaded once by the root command before any subcommand runs.
var cfg *config.Config

// rootCmd is the main Cobra command for the confessiond CLI.
var rootCmd = &cobra.Command{
	Use:   "confessiond",
	Short: "Process, publish and play back anonymous video confessions",
	Long: `confessiond runs the confession pipeline: face blur, caption alignment,
watermark and caption burn-in, and a durable publish queue that uploads
finished clips to S3 and records them in DynamoDB.

Examples:
  confessiond probe
  confessiond process --clip ./take1.mp4 --user u-123 --transcript ./take1.transcript.json.zst
  confessiond worker
  confessiond status 0b6f3c1e-5c55-4a3c-9d5f-0d5d1f1c2a10
  confessiond dead-letters list
  confessiond play vid-1 confessions/<hash>.mp4`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init()
		loaded, err := config.Load(configFlag)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", os.Getenv("CONFESSION_CONFIG"), "Path to the YAML config file")
	rootCmd.AddCommand(probeCmd, processCmd, workerCmd, statusCmd, cancelCmd, deadLettersCmd, playCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
