package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	serveMigrate  bool
	serveWithJobs bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, log, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Config.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}

		if serveMigrate {
			if err := a.Migrate(); err != nil {
				return err
			}
			log.Info("Database migration completed successfully")
		}

		if serveWithJobs {
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
		}

		srv := &http.Server{
			Addr:              ":" + a.Config.Port,
			Handler:           a.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.WithField("port", a.Config.Port).Info("Server is running")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "migrate the database before serving")
	serveCmd.Flags().BoolVar(&serveWithJobs, "with-jobs", false, "also run the scheduled jobs in this process")
}
