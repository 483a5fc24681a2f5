package cmd

import (
	"dealdesk-backend/internal/task/scheduler"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "Also run the job worker and sync scheduler in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
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
	g.Go(func() error {
		return app.HTTP.Start(ctx, ":"+cfg.Port)
	})

	if serveWithWorker {
		worker := app.NewWorker()
		g.Go(func() error {
			return worker.Run(ctx)
		})

		s := scheduler.NewSyncScheduler(app.Accounts, app.Queue, redislock.New(app.Redis), cfg.Sync.Interval)
		s.Start()
		defer s.Stop()
		log.Info().Msg("worker and scheduler running in the api process")
	}

	return g.Wait()
}
