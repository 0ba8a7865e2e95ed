package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/confession-pipeline/internal/cli"
	"github.com/fpang/confession-pipeline/internal/publish"
)

var statusCmd = &cobra.Command{
	Use:   "status <tempId>",
	Short: "Show the publish state of a confession",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, store, err := openQueue(nil, nil, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := queue.Status(cmd.Context(), args[0])
		if errors.Is(err, publish.ErrNotFound) {
			return fmt.Errorf("no publish job with tempId %s", args[0])
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if report.Status == publish.StatusPending {
			fmt.Fprintf(os.Stderr, "next attempt %s\n", cli.FormatRetryIn(report.NextRetryAt, time.Now()))
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <tempId>",
	Short: "Cancel a queued, in-flight or dead-lettered publish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, store, err := openQueue(nil, nil, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		status, err := queue.Cancel(cmd.Context(), args[0])
		if errors.Is(err, publish.ErrNotFound) {
			return fmt.Errorf("no publish job with tempId %s", args[0])
		}
		if err != nil {
			return err
		}
		if status == publish.StatusInFlight {
			fmt.Printf("%s: cancel requested; takes effect when the current attempt ends\n", args[0])
			return nil
		}
		fmt.Printf("%s: %s\n", args[0], status)
		return nil
	},
}
