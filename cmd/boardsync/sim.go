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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/erauner12/taskboard-sync/internal/auth"
	"github.com/erauner12/taskboard-sync/internal/boardsim"
)

func simCmd(flags *rootFlags) *cobra.Command {
	var (
		addr      string
		projectID string
		seed      int
	)

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run an in-memory board API with a patch stream",
		Long: `Serve the board REST API and task stream from memory. Every write is
broadcast to stream subscribers as a JsonPatch message. Bearer auth is
enforced when a JWT secret is configured.

Examples:
  boardsync sim --addr :8081 --project demo --seed 40`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") || cfg.Sim.Addr == "" {
				cfg.Sim.Addr = addr
			}
			if cmd.Flags().Changed("seed") {
				cfg.Sim.SeedTasks = seed
			}
			if projectID == "" {
				projectID = cfg.ProjectID
			}

			var opts boardsim.Options
			if cfg.Auth.Enabled() {
				opts.JWT = &auth.JWTCfg{HS256Secret: cfg.Auth.Secret}
			}
			sim := boardsim.NewServer(opts)
			if projectID != "" && cfg.Sim.SeedTasks > 0 {
				sim.Board.Seed(projectID, cfg.Sim.SeedTasks)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg.Sim.Addr, sim)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "Listen address")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project to seed")
	cmd.Flags().IntVar(&seed, "seed", 0, "Number of tasks to seed")
	return cmd
}

func serve(ctx context.Context, addr string, sim *boardsim.Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           sim.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("board simulator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("simulator failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down simulator")
	sim.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
