package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/confession-pipeline/internal/awsboot"
	"github.com/fpang/confession-pipeline/internal/publish"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the publish worker until interrupted",
	Long: `Worker drains the durable publish queue: each job's artifact is uploaded to
S3 under its content hash and the confession record is upserted in DynamoDB.
Transient failures are retried with exponential backoff; permanent failures
move to the dead-letter list. Publishing suspends while the connectivity
check fails and resumes when it succeeds.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	initStart := time.Now()

	aws, err := awsboot.InitAWS(ctx)
	if err != nil {
		return err
	}
	s3c, err := awsboot.InitS3(aws.Config, cfg.Publish.Bucket)
	if err != nil {
		return err
	}
	confessions, err := awsboot.InitDynamo(aws.Config, cfg.Publish.Table)
	if err != nil {
		return err
	}

	var observer publish.Observer
	if emitter := awsboot.InitEvents(aws.Config, cfg.Publish.EventBus); emitter != nil {
		observer = &publish.EventObserver{Emitter: emitter, KeyPrefix: cfg.Publish.KeyPrefix}
	}

	monitor := &publish.DialMonitor{
		Switch:   publish.NewSwitch(true),
		Addr:     cfg.Publish.ConnectivityAddr,
		Interval: cfg.Publish.ConnectivityInterval,
		Timeout:  5 * time.Second,
	}
	monitor.Check(ctx)

	remote := &publish.S3DynamoRemote{
		S3:        s3c.Client,
		Bucket:    s3c.Bucket,
		KeyPrefix: cfg.Publish.KeyPrefix,
		Store:     confessions,
	}
	queue, store, err := openQueue(remote, monitor.Switch, observer)
	if err != nil {
		return err
	}
	defer store.Close()

	awsboot.StartupLog("confessiond-worker", initStart).
		CommitHash(commitHash).
		S3Bucket("mediaBucket", cfg.Publish.Bucket).
		DynamoTable("confessionTable", cfg.Publish.Table).
		EventBus("eventBus", cfg.Publish.EventBus).
		LocalFile("queueDb", cfg.Publish.QueueDB).
		Config("connectivityAddr", cfg.Publish.ConnectivityAddr).
		Feature("online", monitor.Switch.Online()).
		Feature("events", observer != nil).
		Log()

	go monitor.Run(ctx)

	if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
