package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/erauner12/taskboard-sync/internal/board"
)

func watchCmd(flags *rootFlags) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mount a project's task board and log every change",
		Long: `Mount a project's task board, follow its patch stream and log a
summary of every column after each change, until interrupted.

Examples:
  boardsync watch --project 8c1f...
  BOARD_API_BASE_URL=https://board.example.com boardsync watch --project 8c1f...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if projectID != "" {
				cfg.ProjectID = projectID
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cfg.ProjectID, func(ctx context.Context) (*board.TaskScope, error) {
				c, err := board.Connect(ctx, cfg, nil)
				if err != nil {
					return nil, err
				}
				return c.Tasks(cfg.ProjectID)
			})
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project id (overrides config and BOARD_PROJECT_ID)")
	return cmd
}

func runWatch(ctx context.Context, projectID string, open func(ctx context.Context) (*board.TaskScope, error)) error {
	tasks, err := open(ctx)
	if err != nil {
		return err
	}
	defer tasks.Close()

	changes, unsubscribe := tasks.Subscribe()
	defer unsubscribe()

	if err := tasks.Mount(ctx); err != nil {
		// partial failures leave the scope usable
		log.Warn().Err(err).Msg("initial load incomplete")
	}
	log.Info().Str("projectId", projectID).Msg("watching board")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping watch")
			return nil
		case <-changes:
			logSummary(tasks)
		}
	}
}

func logSummary(tasks *board.TaskScope) {
	views := tasks.Views()
	ev := log.Info()
	for _, key := range tasks.Partitions() {
		v := views[key]
		ev = ev.Str(key, fmt.Sprintf("%d/%d", len(v.Items), v.Total))
	}
	st := tasks.Stream()
	ev.Bool("connected", st.Connected).
		AnErr("streamErr", st.Err).
		AnErr("patchErr", tasks.PatchErr()).
		Msg("board changed")
}
