package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"launchledger/internal/app"
	"launchledger/internal/config"
	"launchledger/internal/server"
	launchsdk "launchledger/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "lv",
	Short: "Launch Ledger CLI",
	Long: `Launch Ledger runs one voting launch per day.
- Launch: the day's set of eligible apps; pending -> active -> flushing -> flushed.
- Votes: live counters in Redis, one per app, plus a marker per voter and app.
- Flush: moves the day's counts into durable per-app totals exactly once.
- Repair: rebuilds the Redis eligibility set from the durable active launch.
- Daily cycle: flush yesterday, open today; run by 'lv serve' or 'lv cycle run'.
Secrets come from the environment (LAUNCH_JWT_SECRET, LAUNCH_VOTER_TOKEN_SECRET,
LAUNCH_CRON_SECRET, LAUNCH_REDIS_URL) or a .env file.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := godotenv.Load(viper.GetString("env-file")); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	viper.SetEnvPrefix("LAUNCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.Path("."), "config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("url", "http://127.0.0.1:8080", "API base URL for remote commands")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("env-file", rootCmd.PersistentFlags().Lookup("env-file"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(launchCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(auditCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the daily-cycle scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				if addr == "" {
					addr = c.Config.Server.Addr
				}
				handler, err := server.New(c.ServerConfig())
				if err != nil {
					return err
				}
				if c.Scheduler != nil {
					c.Scheduler.Start()
					defer func() {
						stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
						defer cancel()
						c.Scheduler.Stop(stopCtx)
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				c.Log.WithField("addr", addr).Infof("serving Launch Ledger API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)", addr, c.Config.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage launchledger.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config with environment overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Auth.JWTSecret = redact(cfg.Auth.JWTSecret)
			redacted.Auth.VoterTokenSecret = redact(cfg.Auth.VoterTokenSecret)
			redacted.Cron.Secret = redact(cfg.Cron.Secret)
			return printJSON(redacted)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

// loadConfig reads the config file (defaults when absent) and applies
// LAUNCH_* environment overrides for secrets and store locations.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	overrides := map[string]*string{
		"redis-url":          &cfg.Redis.URL,
		"database-path":      &cfg.Database.Path,
		"jwt-secret":         &cfg.Auth.JWTSecret,
		"voter-token-secret": &cfg.Auth.VoterTokenSecret,
		"cron-secret":        &cfg.Cron.Secret,
		"revalidate-url":     &cfg.Revalidation.Endpoint,
		"log-level":          &cfg.Logging.Level,
	}
	for key, dst := range overrides {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := app.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func remoteClient() (*launchsdk.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c := launchsdk.New(viper.GetString("url"))
	c.BearerToken = viper.GetString("admin-token")
	c.CronSecret = cfg.Cron.Secret
	return c, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
