package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/auth"
	"github.com/goatkit/phonedesk/internal/database"
	"github.com/goatkit/phonedesk/internal/events"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/report"
)

func migrateCmd(env *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := env.cfg, env.logger.Logger
			if cfg.Database.InMemory() {
				return errors.New("migrate requires a SQL database driver")
			}
			db, err := database.Open(cmd.Context(), cfg.Database.Pool(), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.Migrate(cmd.Context(), db, logger)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied migration %d\n", v)
			}
			return nil
		},
	}
}

func sweepCmd(env *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep <job-slug>",
		Short: "Run one scheduler job immediately, e.g. risk-sweep or overdue-reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			job := findJobBySlug(buildSchedulerJobs(env.cfg), args[0])
			if job == nil {
				return fmt.Errorf("unknown job %q", args[0])
			}
			a, err := newApp(ctx, env.cfg, env.logger.Logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.scheduler.RunHandler(ctx, job.Handler, job.Config); err != nil {
				return err
			}
			env.logger.Info("job completed", zap.String("slug", job.Slug))
			return nil
		},
	}
}

func exportTaskCmd(env *runtimeEnv) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-task <task-id>",
		Short: "Write an inventory task to an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, env.cfg, env.logger.Logger)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := loadTaskExport(ctx, a, args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("inventory-%s.xlsx", data.Task.ID)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := report.NewExporter(a.dir, env.cfg.Location()).WriteTask(ctx, f, data); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d items)\n", output, len(data.Items))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: inventory-<task-id>.xlsx)")
	return cmd
}

func loadTaskExport(ctx context.Context, a *app, taskID string) (report.TaskExport, error) {
	actor := models.SystemActor
	task, err := a.inventory.GetTask(ctx, actor, taskID)
	if err != nil {
		return report.TaskExport{}, err
	}
	items, err := a.inventory.ListTaskItems(ctx, actor, taskID, models.TaskItemFilter{})
	if err != nil {
		return report.TaskExport{}, err
	}
	unlisted, err := a.inventory.ListUnlistedReports(ctx, actor, taskID)
	if err != nil {
		return report.TaskExport{}, err
	}
	return report.TaskExport{Task: task, Items: items, Unlisted: unlisted}, nil
}

func tokenCmd(env *runtimeEnv) *cobra.Command {
	var userID, employeeID int64
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for an administrator or employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			jwtCfg := env.cfg.Auth.JWT
			if jwtCfg.Secret == "" {
				return errors.New("auth.jwt.secret must be configured to issue tokens")
			}
			tokens, err := auth.NewJWTManager(jwtCfg.Secret, jwtCfg.Issuer, jwtCfg.TTL)
			if err != nil {
				return err
			}
			token, exp, err := tokens.Issue(models.Actor{UserID: userID, EmployeeID: employeeID})
			if err != nil {
				return err
			}
			return printToken(cmd.OutOrStdout(), token, exp.Unix())
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Administrator user id")
	cmd.Flags().Int64Var(&employeeID, "employee", 0, "Employee id")
	return cmd
}

func printToken(w io.Writer, token string, expiresAt int64) error {
	return json.NewEncoder(w).Encode(map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func eventsCmd(env *runtimeEnv) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream published events from Redis as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !env.cfg.Redis.Enabled {
				return errors.New("events requires redis.enabled")
			}
			selected, err := parseEventTypes(types)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), env.cfg, env.logger.Logger)
			if err != nil {
				return err
			}
			defer a.Close()

			pub := events.NewRedisPublisher(a.redis, env.cfg.Events.ChannelPrefix)
			enc := json.NewEncoder(cmd.OutOrStdout())
			err = pub.Subscribe(cmd.Context(), func(ev events.Event) {
				if err := enc.Encode(ev); err != nil {
					env.logger.Warn("failed to write event", zap.Error(err))
				}
			}, selected...)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "Event types to follow (default: all)")
	return cmd
}

func parseEventTypes(names []string) ([]events.Type, error) {
	if len(names) == 0 {
		return events.AllTypes, nil
	}
	known := make(map[events.Type]bool, len(events.AllTypes))
	for _, t := range events.AllTypes {
		known[t] = true
	}
	out := make([]events.Type, 0, len(names))
	for _, n := range names {
		t := events.Type(strings.TrimSpace(n))
		if !known[t] {
			return nil, fmt.Errorf("unknown event type %q", n)
		}
		out = append(out, t)
	}
	return out, nil
}

