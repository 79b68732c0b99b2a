package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/awaistahir/solarcast/internal/config"
	"github.com/awaistahir/solarcast/internal/forecast"
	"github.com/awaistahir/solarcast/internal/logging"
	"github.com/awaistahir/solarcast/internal/session"
	"github.com/awaistahir/solarcast/internal/store"
	"github.com/awaistahir/solarcast/internal/uiapi"
)

func main() {
	var port int
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "solarcastd",
		Short:        "SolarCast HTTP server with web UI",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(config.Dir(), 0755); err != nil {
				return fmt.Errorf("creating config dir: %w", err)
			}

			cfg, err := config.Load(viper.New(), cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			log := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer st.Close()

			sessions := session.NewRegistry(cfg.Server.SessionTTL)
			predicter := forecast.NewAdapter(cfg.Model.NewSource())
			srv := uiapi.NewServer(predicter, st, sessions, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ev := log.Info()
			if cfg.Model.RemoteURL != "" {
				ev = ev.Str("model_url", cfg.Model.RemoteURL)
			} else {
				ev = ev.Str("model_path", cfg.Model.Path)
			}
			ev.Int("port", cfg.Server.Port).
				Str("database", cfg.Store.Path).
				Msgf("SolarCast UI listening on http://localhost:%d", cfg.Server.Port)

			g, gCtx := errgroup.WithContext(ctx)

			g.Go(func() error {
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				sweepSessions(gCtx, sessions, cfg.Server.SessionTTL, func(n int) {
					log.Debug().Int("expired", n).Msg("swept sessions")
				})
				return nil
			})

			g.Go(func() error {
				<-gCtx.Done()
				log.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	rootCmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP port (overrides server.port)")
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// sweepSessions drops expired sessions until ctx is done.
func sweepSessions(ctx context.Context, sessions *session.Registry, ttl time.Duration, report func(int)) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				report(n)
			}
		}
	}
}
