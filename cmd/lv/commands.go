package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"launchledger/internal/app"
	"launchledger/internal/domain"
	"launchledger/internal/engine"
	"launchledger/internal/engine/auth"
)

func launchCmd() *cobra.Command {
	l := &cobra.Command{Use: "launch", Short: "Manage launches"}
	l.AddCommand(launchCreateCmd())
	l.AddCommand(launchActiveCmd())
	l.AddCommand(launchListCmd())
	l.AddCommand(launchShowCmd())
	l.AddCommand(launchFlushCmd())
	return l
}

func launchCreateCmd() *cobra.Command {
	var date, name, createdBy string
	var apps []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the active launch for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				if date == "" {
					date = c.Engine.CurrentDay()
				}
				l, err := c.Engine.CreateLaunch(ctx, engine.CreateLaunchOptions{
					Date:      date,
					AppIDs:    apps,
					Name:      name,
					CreatedBy: createdBy,
					Manual:    true,
				})
				if err != nil {
					return err
				}
				return printJSONOrText(l, fmt.Sprintf("launch %s active with %d apps", l.Date, len(l.Apps)))
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "launch day YYYY-MM-DD (defaults to today UTC)")
	cmd.Flags().StringSliceVar(&apps, "apps", nil, "eligible app ids")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&createdBy, "created-by", "cli", "creator recorded on the launch")
	_ = cmd.MarkFlagRequired("apps")
	return cmd
}

func launchActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the active launch with live counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				l, err := c.Engine.GetActiveLaunch(ctx)
				if err != nil {
					return err
				}
				if l == nil {
					return printJSONOrText(map[string]any{}, "no active launch")
				}
				counts, err := c.Engine.GetCurrentVoteCounts(ctx, l.Apps)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"launch": l, "votes": counts})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("Launch " + l.Date + " (" + string(l.Status) + ")")
				tw.AppendHeader(table.Row{"App", "Votes"})
				for _, id := range l.Apps {
					tw.AppendRow(table.Row{id, counts[id]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func launchListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flushed launches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Engine.ListFlushedLaunches(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "ID", "Status", "Apps", "Flushed At"})
				for _, l := range items {
					flushed := ""
					if l.FlushedAt != nil {
						flushed = l.FlushedAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{l.Date, l.ID, l.Status, len(l.Apps), flushed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of launches")
	return cmd
}

func launchShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <date>",
		Short: "Show a launch and its recorded results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				hist, err := c.Engine.GetLaunchHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hist)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("Launch " + hist.Launch.Date + " (" + string(hist.Launch.Status) + ")")
				tw.AppendHeader(table.Row{"App", "Votes", "Recorded At"})
				for _, r := range hist.Results {
					tw.AppendRow(table.Row{r.AppID, r.Votes, r.RecordedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func launchFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush <date>",
		Short: "Reconcile a launch's votes into durable totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				res, err := c.Engine.FlushLaunch(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrText(res, fmt.Sprintf("%s: %d apps with votes", res.Message, len(res.VoteCounts)))
			})
		},
	}
}

func cycleCmd() *cobra.Command {
	c := &cobra.Command{Use: "cycle", Short: "Run the daily cycle"}
	c.AddCommand(cycleRunCmd())
	c.AddCommand(cycleTriggerCmd())
	return c
}

func cycleRunCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily cycle against the local stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				if date == "" {
					date = c.Engine.CurrentDay()
				}
				res := c.Engine.RunDailyCycle(ctx, date)
				if err := printCycle(res.CycleComplete, res.FlushPrevious.Message, res.CreateNew.Message, res.NextCycle, res); err != nil {
					return err
				}
				if !res.CycleComplete {
					return fmt.Errorf("daily cycle incomplete")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to run for (defaults to today UTC)")
	return cmd
}

func cycleTriggerCmd() *cobra.Command {
	var viaCron bool
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running server to run the daily cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := remoteClient()
			if err != nil {
				return err
			}
			run := client.TriggerCycle
			if viaCron {
				run = client.CronCycle
			}
			res, err := run(cmd.Context())
			if res.Message != "" {
				if perr := printCycle(res.Success, res.Results.FlushPrevious.Message, res.Results.CreateNew.Message, res.NextCycle, res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&viaCron, "cron", false, "use the cron route and LAUNCH_CRON_SECRET instead of an admin token")
	return cmd
}

func printCycle(complete bool, flush, create, next string, v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"complete", complete})
	tw.AppendRow(table.Row{"flush previous", flush})
	tw.AppendRow(table.Row{"create new", create})
	tw.AppendRow(table.Row{"next cycle", next})
	tw.Render()
	return nil
}

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Rebuild the Redis eligibility set from the active launch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				res := c.Engine.RepairActiveLaunchRedis(ctx)
				if err := printJSONOrText(res, fmt.Sprintf("%s (before %d, after %d)", res.Message, res.Details.BeforeCount, res.Details.AfterCount)); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("repair failed")
				}
				return nil
			})
		},
	}
}

func appCmd() *cobra.Command {
	a := &cobra.Command{Use: "app", Short: "Manage catalog apps the ledger schedules"}
	a.AddCommand(appUpsertCmd())
	a.AddCommand(appScheduleCmd())
	return a
}

func appUpsertCmd() *cobra.Command {
	var a domain.App
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update an app",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := domain.ValidateAppID(a.ID); err != nil {
				return err
			}
			if a.LaunchDate != "" {
				if err := domain.ValidateDate(a.LaunchDate); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				if err := c.Engine.Repo.UpsertApp(ctx, a); err != nil {
					return err
				}
				return printJSONOrText(a, "app "+a.ID+" saved")
			})
		},
	}
	cmd.Flags().StringVar(&a.ID, "id", "", "app id")
	cmd.Flags().StringVar(&a.Name, "name", "", "display name")
	cmd.Flags().StringVar(&a.Status, "status", "", "catalog status")
	cmd.Flags().BoolVar(&a.IsPremium, "premium", false, "premium listing")
	cmd.Flags().StringVar(&a.LaunchDate, "launch-date", "", "day the app enters the daily cycle")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func appScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <app-id> <date>",
		Short: "Set the day an app enters the daily cycle (empty date clears it)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := ""
			if len(args) == 2 {
				date = args[1]
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				if err := c.Engine.ScheduleApp(ctx, args[0], date); err != nil {
					return err
				}
				return printJSONOrText(map[string]string{"id": args[0], "launchDate": date}, "app "+args[0]+" scheduled for "+date)
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Issue tokens for operators and test voters"}
	t.AddCommand(tokenVoterCmd())
	t.AddCommand(tokenAdminCmd())
	return t
}

func tokenVoterCmd() *cobra.Command {
	var claims auth.VoterClaims
	cmd := &cobra.Command{
		Use:   "voter",
		Short: "Encrypt a voter token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.EncryptVoterToken(claims, cfg.Auth.VoterTokenSecret)
			if err != nil {
				return err
			}
			return printJSONOrText(map[string]string{"token": token}, token)
		},
	}
	cmd.Flags().StringVar(&claims.Subject, "subject", "", "voter id")
	cmd.Flags().StringVar(&claims.Role, "role", "", "role claim")
	cmd.Flags().BoolVar(&claims.Pro, "pro", false, "pro voter")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func tokenAdminCmd() *cobra.Command {
	var subject, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Sign an operator JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.IssueAdminToken(subject, role, cfg.Auth.JWTSecret, ttl, time.Now())
			if err != nil {
				return err
			}
			return printJSONOrText(map[string]string{"token": token}, token)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator id")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	a.AddCommand(auditTailCmd())
	return a
}

func auditTailCmd() *cobra.Command {
	var n int
	var typ string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Engine.Repo.ListAudit(ctx, domain.AuditType(typ), n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "At", "Type", "Name", "Status", "Message"})
				for _, e := range items {
					msg := e.Message
					if e.Error != "" {
						msg = strings.TrimSpace(msg + " " + e.Error)
					}
					tw.AppendRow(table.Row{e.ID, e.CreatedAt.Format(time.RFC3339), e.Type, e.Name, e.Status, msg})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&typ, "type", "", "cron, revalidation, maintenance or other")
	return cmd
}
