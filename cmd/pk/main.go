package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parkline/internal/app"
	"parkline/internal/config"
	"parkline/internal/db"
	"parkline/internal/engine"
	"parkline/internal/lot"
	"parkline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pk",
	Short: "Parkline CLI",
	Long: `Parkline manages a parking lot: typed spots across ordered levels,
tickets issued at entry, and duration-billed receipts at exit.

Concepts:
- Workspace: the directory holding parkline.yml and the .parkline database.
- Lot: the whole facility, built once from config and immutable after.
- Ticket: the token for one active session; each ticket binds one spot.
- Receipt: the final bill when a session closes; fares round up to whole
  billing units with a one-unit minimum.
- Event log: append-only record of entries, exits and rejections; view
  with 'pk log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PARKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("operator-id", "local-operator", "operator identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("operator-id", rootCmd.PersistentFlags().Lookup("operator-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(enterCmd())
	rootCmd.AddCommand(exitCmd())
	rootCmd.AddCommand(occupancyCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage lot configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var lotID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default parkline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(lotID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&lotID, "lot-id", "main-lot", "lot identifier")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the loaded configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func enterCmd() *cobra.Command {
	var plate, vtype string
	cmd := &cobra.Command{
		Use:   "enter",
		Short: "Admit a vehicle and print its ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Enter(ctx, vtype, plate, viper.GetString("operator-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&plate, "plate", "", "vehicle plate / id")
	cmd.Flags().StringVar(&vtype, "type", "car", "vehicle type (car, bus, motorcycle)")
	_ = cmd.MarkFlagRequired("plate")
	return cmd
}

func exitCmd() *cobra.Command {
	var ticketID string
	cmd := &cobra.Command{
		Use:   "exit",
		Short: "Close a session and print the receipt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rcpt, err := e.Exit(ctx, ticketID, viper.GetString("operator-id"))
				if err != nil {
					return err
				}
				return printJSON(rcpt)
			})
		},
	}
	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket id")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}

func occupancyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "occupancy",
		Short: "Show per-level occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				levels := e.Occupancy()
				if viper.GetBool("json") {
					return printJSON(levels)
				}
				printOccupancyTable(levels)
				return nil
			})
		},
	}
	return cmd
}

func printOccupancyTable(levels []lot.LevelOccupancy) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Level", "Category", "Occupied", "Total", "Free"})
	for _, lvl := range levels {
		cats := make([]lot.SpotCategory, 0, len(lvl.ByCategory))
		for cat := range lvl.ByCategory {
			cats = append(cats, cat)
		}
		sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
		for _, cat := range cats {
			c := lvl.ByCategory[cat]
			t.AppendRow(table.Row{lvl.LevelID, cat, c.Occupied, c.Total, c.Total - c.Occupied})
		}
		t.AppendSeparator()
	}
	t.Render()
}

func sessionCmd() *cobra.Command {
	s := &cobra.Command{Use: "session", Short: "Inspect session history"}
	s.AddCommand(sessionListCmd())
	s.AddCommand(sessionShowCmd())
	return s
}

func sessionListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSessions(ctx, status, limit)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, closed, orphaned)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	var ticketID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSession(ctx, ticketID)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket id")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Lot.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var operator, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if operator == "" {
					operator = viper.GetString("operator-id")
				}
				key, secret, err := e.CreateAPIKey(ctx, operator, name)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"id":          key.ID,
					"operator_id": key.OperatorID,
					"name":        key.Name,
					"secret":      secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator id (defaults to --operator-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, operator)
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "filter by operator id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, id)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "key id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Parkline HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer cleanup()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("PARKLINE_JWT_SECRET")}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Parkline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, cleanup, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
