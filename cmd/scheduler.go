package cmd

import (
	"dealdesk-backend/internal/task/scheduler"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Enqueue periodic syncs for every linked mailbox",
	Long: `Enqueue a sync and a watch renewal for every active mailbox on each tick.
Several schedulers may run; a Redis lock lets one of them enqueue per tick.`,
	RunE: runScheduler,
}

func runScheduler(cmd *cobra.Command, args []string) error {
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

	s := scheduler.NewSyncScheduler(app.Accounts, app.Queue, redislock.New(app.Redis), cfg.Sync.Interval)
	s.Start()
	log.Info().Dur("interval", cfg.Sync.Interval).Msg("scheduler started")

	<-ctx.Done()
	s.Stop()
	return nil
}
