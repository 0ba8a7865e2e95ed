package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/confession-pipeline/internal/cli"
)

var deadLettersCmd = &cobra.Command{
	Use:     "dead-letters",
	Aliases: []string{"dlq"},
	Short:   "Inspect and resolve permanently failed publishes",
}

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, store, err := openQueue(nil, nil, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		jobs, err := queue.ListDeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No dead letters.")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TEMP ID\tUSER\tATTEMPTS\tAGE\tLAST ERROR")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				j.TempID, j.UserID, j.AttemptCount,
				cli.FormatClock(now.Sub(j.CreatedAt)), j.LastError)
		}
		return w.Flush()
	},
}

var deadLettersRetryCmd = &cobra.Command{
	Use:   "retry <tempId>",
	Short: "Return a dead-lettered job to the queue with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, store, err := openQueue(nil, nil, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := queue.RetryDeadLetter(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s: requeued\n", args[0])
		return nil
	},
}

var deadLettersDiscardCmd = &cobra.Command{
	Use:   "discard <tempId>",
	Short: "Drop a dead-lettered job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, store, err := openQueue(nil, nil, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := queue.DiscardDeadLetter(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s: discarded\n", args[0])
		return nil
	},
}

func init() {
	deadLettersCmd.AddCommand(deadLettersListCmd, deadLettersRetryCmd, deadLettersDiscardCmd)
}
