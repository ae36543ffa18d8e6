package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/homefix/marketplace-api/events"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run scheduled jobs and consume notification events",
	Long: `The worker runs the booking reminder and subscription reconcile jobs.
When RABBITMQ_URL is set it also consumes the notifications queue and
sends the e-mails; otherwise notifications are sent by the publishing
process itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, log, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		scheduler, err := a.Scheduler()
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = scheduler.Stop(stopCtx)
		}()

		if !a.UsesBroker() {
			log.Info("No message broker configured, running jobs only")
			<-ctx.Done()
			return nil
		}

		consumer, err := events.NewRabbitMQConsumer(a.Config.RabbitMQURL, events.NotificationsQueue, log)
		if err != nil {
			return err
		}
		defer consumer.Close()

		if err := consumer.Register(a.Notifier); err != nil {
			return err
		}

		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("Worker stopped")
		return nil
	},
}
