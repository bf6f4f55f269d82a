package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"timeledger/internal/app"
	"timeledger/internal/config"
	"timeledger/internal/db"
	"timeledger/internal/domain"
	"timeledger/internal/engine"
	"timeledger/internal/humanize"
	"timeledger/internal/migrate"
	"timeledger/internal/repo"
	"timeledger/internal/server"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Timeledger CLI",
	Long: `Timeledger tracks how long your tasks take, per project.
Begin a task, finish it, and the time lands in the ledger. Projects can
absorb other projects: the absorbed project's total shows up as one task
and its own breakdown stays available in nested reports.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("TL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project name (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(beginCmd())
	rootCmd.AddCommand(finishCmd())
	rootCmd.AddCommand(logTaskCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(absorbCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(saveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Initialize a workspace and its first project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			name := defaultProjectName(workspace)
			if len(args) == 1 {
				name = args[0]
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(name)), 0o644); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProjectByName(ctx, name)
				if err == nil {
					fmt.Printf("Workspace ready, project %q already exists.\n", p.Name)
					return nil
				}
				if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				p, err = e.InitProject(ctx, name, viper.GetString("actor"))
				if err != nil {
					return err
				}
				fmt.Printf("Initialized workspace with project %q (config at %s).\n", p.Name, cfgPath)
				return nil
			})
		},
	}
	return cmd
}

func beginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "begin <task>",
		Short: "Start working on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				s, err := e.Begin(ctx, p.ID, args[0], viper.GetString("actor"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Begun %q on %s.\n", s.Name, p.Name)
				return nil
			})
		},
	}
	return cmd
}

func finishCmd() *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "finish <task>",
		Short: "Finish a task and record its time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				if !cmd.Flags().Changed("merge") && e.Config != nil {
					merge = e.Config.Tasks.MergeOnFinish
				}
				row, err := e.Finish(ctx, p.ID, args[0], merge, viper.GetString("actor"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(row)
				}
				fmt.Printf("Finished %q after %s.\n", row.Name, humanize.Precise(rowDuration(row)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "fold into the first task of the same name")
	return cmd
}

func logTaskCmd() *cobra.Command {
	var forDur string
	var merge bool
	cmd := &cobra.Command{
		Use:   "log <task>",
		Short: "Record a task that already happened",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(forDur)
			if err != nil {
				return fmt.Errorf("invalid --for duration %q", forDur)
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				row, err := e.Log(ctx, p.ID, args[0], d, merge, viper.GetString("actor"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(row)
				}
				fmt.Printf("Logged %q for %s.\n", row.Name, humanize.Precise(rowDuration(row)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&forDur, "for", "", "how long the task took, e.g. 1h30m")
	cmd.Flags().BoolVar(&merge, "merge", false, "fold into the first task of the same name")
	_ = cmd.MarkFlagRequired("for")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show open sessions and total time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				tracker, err := e.Tracker(ctx, p.ID)
				if err != nil {
					return err
				}
				statuses, err := e.Status(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project":    p.Name,
						"total_time": tracker.TotalTime().String(),
						"sessions":   statuses,
					})
				}
				fmt.Printf("Project: %s\n", p.Name)
				fmt.Printf("Total time: %s\n", humanize.Precise(tracker.TotalTime()))
				if len(statuses) == 0 {
					fmt.Println("No open tasks.")
					return nil
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"task", "started", "elapsed"})
				for _, s := range statuses {
					tw.AppendRow(table.Row{s.Session.Name, s.Session.Start, humanize.Precise(s.Elapsed)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List completed tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				rows, err := e.Repo.ListTasks(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				var total time.Duration
				for _, row := range rows {
					total += rowDuration(row)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"name", "time", "percentage"})
				for _, row := range rows {
					d := rowDuration(row)
					pct := 0.0
					if total > 0 {
						pct = float64(d.Microseconds()) / float64(total.Microseconds()) * 100
					}
					tw.AppendRow(table.Row{row.Name, humanize.Precise(d), fmt.Sprintf("%.2f%%", pct)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectNewCmd())
	prj.AddCommand(projectListCmd())
	return prj
}

func projectNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.InitProject(ctx, args[0], viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(p, fmt.Sprintf("Created project %q.", p.Name))
			})
		},
	}
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List root projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRootProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, p := range items {
					fmt.Println(p.Name)
				}
				return nil
			})
		},
	}
	return cmd
}

func absorbCmd() *cobra.Command {
	var into string
	cmd := &cobra.Command{
		Use:   "absorb <child>",
		Short: "Fold another project into this one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				parentRef := into
				if parentRef == "" {
					parentRef = viper.GetString("project")
				}
				parent, err := app.ResolveProject(ctx, e, parentRef, viper.GetString("actor"))
				if err != nil {
					return err
				}
				child, err := e.Repo.GetProjectByName(ctx, args[0])
				if err != nil {
					return err
				}
				row, err := e.Absorb(ctx, parent.ID, child.ID, viper.GetString("actor"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(row)
				}
				fmt.Printf("Absorbed %q into %q (%s).\n", child.Name, parent.Name, humanize.Precise(rowDuration(row)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&into, "into", "", "absorbing project (defaults to the active project)")
	return cmd
}

func reportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the markdown time report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				if out != "" {
					if err := e.WriteReport(ctx, p.ID, out, viper.GetString("actor")); err != nil {
						return err
					}
					fmt.Printf("Report written to %s.\n", out)
					return nil
				}
				text, err := e.RenderReport(ctx, p.ID)
				if err != nil {
					return err
				}
				fmt.Println(text)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func saveCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a JSON snapshot of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				if dir == "" {
					dir = "."
					if e.Config != nil && e.Config.Reports.Dir != "" {
						dir = e.Config.Reports.Dir
					}
				}
				path, err := e.SaveSnapshot(ctx, p.ID, dir, viper.GetString("actor"))
				if err != nil {
					return err
				}
				fmt.Printf("Snapshot saved to %s.\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "snapshot directory")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a snapshot as a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ImportSnapshot(ctx, args[0], viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(p, fmt.Sprintf("Imported project %q.", p.Name))
			})
		},
	}
	return cmd
}

func eventsCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				items, err := e.Repo.LatestEvents(ctx, n, p.ID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, evt := range items {
					fmt.Printf("%s\t%s\t%s\t%s\n", evt.TS, evt.Type, evt.Actor, evt.Payload)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Manage API tokens"}
	tok.AddCommand(tokenCreateCmd())
	tok.AddCommand(tokenListCmd())
	tok.AddCommand(tokenRevokeCmd())
	return tok
}

func tokenCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw, t, err := e.CreateToken(ctx, args[0], viper.GetString("actor"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": raw, "id": t.ID, "name": t.Name})
				}
				fmt.Printf("Token %s created. Store it now, it is not shown again:\n%s\n", t.ID, raw)
				return nil
			})
		},
	}
	return cmd
}

func tokenListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTokens(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"id", "name", "created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func tokenRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeToken(ctx, args[0], viper.GetString("actor")); err != nil {
					return err
				}
				fmt.Println("Token revoked.")
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.LoadConfig(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:      cfg.Auth.JWTSecret,
				AllowAnonymous: cfg.Auth.AllowAnonymous,
			}
			if secret := os.Getenv("TL_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Timeledger API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("tl", version)
		},
	}
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.LoadConfig(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withProject(ctx context.Context, fn func(context.Context, engine.Engine, domain.Project) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		p, err := app.ResolveProject(ctx, e, viper.GetString("project"), viper.GetString("actor"))
		if err != nil {
			return err
		}
		return fn(ctx, e, p)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrPlain(v any, plain string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(plain)
	return nil
}

func defaultProjectName(workspace string) string {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "timeledger"
	}
	name := filepath.Base(abs)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "timeledger"
	}
	return name
}

func rowDuration(row domain.TaskRow) time.Duration {
	start, err1 := time.Parse(domain.TimeFormat, row.Start)
	end, err2 := time.Parse(domain.TimeFormat, row.End)
	if err1 != nil || err2 != nil {
		return 0
	}
	return end.Sub(start)
}
