package website

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"git.handmade.network/hmn/imghost/src/config"
	"git.handmade.network/hmn/imghost/src/db"
	"git.handmade.network/hmn/imghost/src/filestore"
	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/jobs"
	"git.handmade.network/hmn/imghost/src/logging"
	"git.handmade.network/hmn/imghost/src/templates"
	"git.handmade.network/hmn/imghost/src/utils"
	"github.com/spf13/cobra"
)

var addrOverride string

var WebsiteCommand = &cobra.Command{
	Use:   "imghost",
	Short: "Run the image host",
	Run: func(cmd *cobra.Command, args []string) {
		defer logging.LogPanics(nil)
		logging.Info().Msg("Hello, imghost!")

		if config.Config.LogDir != "" {
			logFile, err := logging.EnableFileLog(config.Config.LogDir)
			if err != nil {
				logging.Fatal().Err(err).Msg("failed to open log file")
			}
			defer logFile.Close()
		}

		templates.Init()

		svc, closeService, err := OpenImageService(context.Background())
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to start")
		}
		defer closeService()

		var wg sync.WaitGroup

		// Start background jobs
		wg.Add(1)
		backgroundJobs := jobs.Jobs{
			images.MonitorConsistency(svc, config.Config.ConsistencyInterval),
		}

		// Create HTTP server
		addr := utils.OrDefault(addrOverride, config.Config.Addr)
		wg.Add(1)
		server := http.Server{
			Addr:              addr,
			Handler:           NewWebsiteRoutes(svc, config.Config.Upload.MaxConcurrent),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info().Str("addr", addr).Msg("Serving the website")
			serverErr := server.ListenAndServe()
			if !errors.Is(serverErr, http.ErrServerClosed) {
				logging.Error().Err(serverErr).Msg("Server shut down unexpectedly")
			}
			// The wg.Done() happens in the shutdown logic below.
		}()

		// Wait for SIGINT in the background and trigger graceful shutdown
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt)
		go func() {
			<-signals // First SIGINT (start shutdown)
			logging.Info().Msg("Shutting down the website")

			const timeout = 10 * time.Second

			go func() {
				logging.Info().Msg("Shutting down background jobs...")
				unfinished := backgroundJobs.CancelAndWait(timeout)
				if len(unfinished) == 0 {
					logging.Info().Msg("Background jobs closed gracefully")
				} else {
					logging.Warn().Strs("Unfinished", unfinished).Msg("Background jobs did not finish by the deadline")
				}
				wg.Done()
			}()

			// Gracefully shut down the HTTP server
			go func() {
				timeoutCtx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				err := server.Shutdown(timeoutCtx)
				if err != nil {
					logging.Warn().Err(err).Msg("Server did not shut down gracefully")
				}
				wg.Done()
			}()

			<-signals // Second SIGINT (force quit)
			logging.Warn().Strs("Unfinished background jobs", backgroundJobs.ListUnfinished()).Msg("Forcibly killed the website")
			os.Exit(1)
		}()

		// Wait for all of the above to finish, then exit
		wg.Wait()
	},
}

func init() {
	WebsiteCommand.Flags().StringVar(&addrOverride, "addr", "", "Address to listen on (overrides ADDR)")
}

type StartupHook func(ctx context.Context) error

var startupHooks []StartupHook

// AddStartupHook registers work that must finish before the image service is
// opened, like database migrations.
func AddStartupHook(hook StartupHook) {
	startupHooks = append(startupHooks, hook)
}

// OpenImageService runs the startup hooks and connects the configured stores.
// The returned func releases the database pool.
func OpenImageService(ctx context.Context) (*images.Service, func(), error) {
	for _, hook := range startupHooks {
		if err := hook(ctx); err != nil {
			return nil, nil, err
		}
	}

	conn, err := db.NewConnPool(ctx, config.PostgresConfig{})
	if err != nil {
		return nil, nil, err
	}

	files, err := filestore.FromConfig(ctx, config.Config.Storage)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	svc := images.NewService(&images.PostgresMetadataStore{Pool: conn}, files, config.Config.Upload)
	return svc, conn.Close, nil
}
