package cmd

import (
	"dealdesk-backend/internal/notification"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process background sync jobs",
	Long: `Process jobs from the Redis queue. With GOOGLE_PUBSUB_PULL set the worker
also pulls Gmail notifications from Pub/Sub.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	g, ctx := errgroup.WithContext(ctx)
	worker := app.NewWorker()
	g.Go(func() error {
		return worker.Run(ctx)
	})

	if cfg.Google.PubSubPull && cfg.Google.ProjectID != "" && cfg.Google.PubSubTopic != "" {
		sub, err := notification.NewSubscriber(ctx, cfg.Google.ProjectID, cfg.Google.PubSubTopic, cfg.Google.Credentials, app.Dispatcher)
		if err != nil {
			return err
		}
		defer sub.Close()
		g.Go(func() error {
			return sub.Run(ctx)
		})
	}

	return g.Wait()
}
