package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"processline/internal/app"
	"processline/internal/config"
	"processline/internal/db"
	"processline/internal/domain"
	"processline/internal/engine"
	"processline/internal/engine/auth"
	"processline/internal/observability"
	"processline/internal/repo"
	"processline/internal/scheduler"
	"processline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Processline CLI",
	Long: `Processline routes business processes through an ordered flow of departments.
- Flow: the departments a process visits, in order. Advance moves forward once the
  current department's required fields and documents are in; rollback moves back.
- Checklist: in parallel mode every department signs off in flow order.
- Trash: deleted processes and documents are kept as snapshots for the retention
  window and can be restored until they expire.
- Timeline: every change is recorded; view it with 'pl process show' or 'pl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		// Values in the workspace .env never override the real environment.
		_ = godotenv.Load(filepath.Join(workspace, ".env"))
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROCESSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "admin", "actor identifier")
	rootCmd.PersistentFlags().String("role", "", "actor role (defaults to the directory entry)")
	rootCmd.PersistentFlags().String("department", "", "actor department (defaults to the directory entry)")
	for _, name := range []string{"workspace", "json", "actor-id", "role", "department"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(trashCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create processline.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("Initialized workspace %s (config %s, database %s)\n", workspace, path, db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var actorHeaders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("PROCESSLINE_JWT_SECRET")
			if secret == "" && !actorHeaders {
				return fmt.Errorf("PROCESSLINE_JWT_SECRET is required for bearer auth")
			}
			a, err := app.Open(cmd.Context(), viper.GetString("workspace"), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Config.Sweeper.Enabled {
				sweeper, err := scheduler.NewSweeper(a.Engine, a.Config.Sweeper.Schedule, a.Log.Named("sweeper"))
				if err != nil {
					return err
				}
				if err := sweeper.Start(cmd.Context()); err != nil {
					return err
				}
				defer sweeper.Stop()
			}

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, AllowActorHeaders: actorHeaders, Logger: a.Log.Named("auth")},
				Metrics:  a.Metrics,
				Gatherer: a.Registry,
				Logger:   a.Log.Named("http"),
			})
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
			a.Log.Info("serving processline API", zap.String("addr", addr), zap.String("base_path", basePath))
			fmt.Printf("Serving Processline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&actorHeaders, "allow-actor-headers", false, "accept X-Actor-* headers without a token (development only)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("PROCESSLINE_JWT_SECRET")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				token, err := server.SignToken(secret, actor, ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

func processCmd() *cobra.Command {
	p := &cobra.Command{Use: "process", Short: "Manage processes"}
	p.AddCommand(processCreateCmd())
	p.AddCommand(processListCmd())
	p.AddCommand(processShowCmd())
	for _, m := range []struct {
		use, short string
		run        func(engine.Engine) func(context.Context, string, auth.Actor) (domain.Process, error)
	}{
		{"advance", "Advance to the next department", func(e engine.Engine) func(context.Context, string, auth.Actor) (domain.Process, error) {
			return e.Advance
		}},
		{"rollback", "Send back to the previous department", func(e engine.Engine) func(context.Context, string, auth.Actor) (domain.Process, error) {
			return e.Rollback
		}},
		{"finalize", "Finish at the last department", func(e engine.Engine) func(context.Context, string, auth.Actor) (domain.Process, error) {
			return e.Finalize
		}},
		{"duplicate", "Copy a process definition", func(e engine.Engine) func(context.Context, string, auth.Actor) (domain.Process, error) {
			return e.DuplicateProcess
		}},
	} {
		p.AddCommand(processMoveCmd(m.use, m.short, m.run))
	}
	p.AddCommand(processStatusCmd())
	p.AddCommand(processAnswerCmd())
	p.AddCommand(processCommentCmd())
	p.AddCommand(processDeleteCmd())
	return p
}

func processCreateCmd() *cobra.Command {
	var (
		opts       engine.ProcessCreateOptions
		stagesFile string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a process",
		Example: `  pl process create --title "Supplier onboarding" --flow sales,legal,finance
  pl process create --title "Audit" --flow finance,legal --parallel --stages-file stages.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stagesFile != "" {
				data, err := os.ReadFile(stagesFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &opts.Stages); err != nil {
					return fmt.Errorf("parse %s: %w", stagesFile, err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				opts.Actor = actor
				created, err := e.CreateProcess(ctx, opts)
				if err != nil {
					return err
				}
				return printProcess(created)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "process title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringSliceVar(&opts.Flow, "flow", nil, "ordered department ids")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "LOW, MEDIUM, HIGH or URGENT")
	cmd.Flags().BoolVar(&opts.ParallelMode, "parallel", false, "require an ordered checklist sign-off")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&opts.CompanyID, "company", "", "company id")
	cmd.Flags().StringVar(&stagesFile, "stages-file", "", "JSON file with per-department fields and required documents")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("flow")
	return cmd
}

func processListCmd() *cobra.Command {
	var f repo.ProcessFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProcesses(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Department", "Status", "Priority", "Progress"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.CurrentDepartment(), p.Status, p.Priority, fmt.Sprintf("%d%%", p.Progress)})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.DepartmentID, "department-id", "", "current department filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func processShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <process-id>",
		Short: "Show a process with its stages, checklist and recent events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				v, err := e.ProcessDetail(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				if err := printProcess(v.Process); err != nil {
					return err
				}
				answers := make(map[string]string, len(v.Answers))
				for _, a := range v.Answers {
					answers[a.FieldID] = a.Value
				}
				tw := newTable()
				tw.SetTitle("Fields")
				tw.AppendHeader(table.Row{"Department", "Field", "Kind", "Required", "Answer"})
				for _, s := range v.Stages {
					for _, f := range s.Fields {
						tw.AppendRow(table.Row{s.DepartmentID, f.Label, f.Kind, f.Required, answers[f.ID]})
					}
				}
				fmt.Println(tw.Render())
				if len(v.Checklist) > 0 {
					printChecklist(v.Checklist)
				}
				events, err := e.Timeline(ctx, v.Process.ID, 10)
				if err != nil {
					return err
				}
				printHistory(events)
				return nil
			})
		},
	}
	return cmd
}

func processMoveCmd(use, short string, run func(engine.Engine) func(context.Context, string, auth.Actor) (domain.Process, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <process-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				p, err := run(e)(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printProcess(p)
			})
		},
	}
}

func processStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "status <process-id> <IN_PROGRESS|PAUSED|CANCELLED>",
		Short:     "Pause, resume or cancel a process",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{domain.StatusInProgress, domain.StatusPaused, domain.StatusCancelled},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				p, err := e.SetStatus(ctx, args[0], strings.ToUpper(args[1]), actor)
				if err != nil {
					return err
				}
				return printProcess(p)
			})
		},
	}
}

func processAnswerCmd() *cobra.Command {
	var values map[string]string
	cmd := &cobra.Command{
		Use:     "answer <process-id>",
		Short:   "Save field answers",
		Example: `  pl process answer 7c0e... --set <field-id>=approved`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				saved, err := e.SaveAnswers(ctx, args[0], values, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Field", "Value", "Updated"})
					for _, a := range saved {
						tw.AppendRow(table.Row{a.FieldID, a.Value, a.UpdatedAt})
					}
				})
			})
		},
	}
	cmd.Flags().StringToStringVar(&values, "set", nil, "field-id=value pairs")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func processCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <process-id> <text>",
		Short: "Comment on a process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				c, err := e.AddComment(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Comment %s added\n", c.ID)
				return nil
			})
		},
	}
}

func processDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <process-id>",
		Short: "Move a process to the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				item, err := e.SoftDeleteProcess(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printTrashItems([]domain.TrashItem{item})
			})
		},
	}
}

func checklistCmd() *cobra.Command {
	c := &cobra.Command{Use: "checklist", Short: "Parallel-mode department sign-off"}
	c.AddCommand(&cobra.Command{
		Use:   "show <process-id>",
		Short: "Show checklist entries in flow order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Checklist(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				printChecklist(entries)
				return nil
			})
		},
	})
	var reopen bool
	set := &cobra.Command{
		Use:   "set <process-id> <department-id>",
		Short: "Sign a department off (or reopen it with --reopen)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				entries, err := e.SetChecklistEntry(ctx, args[0], args[1], !reopen, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				printChecklist(entries)
				return nil
			})
		},
	}
	set.Flags().BoolVar(&reopen, "reopen", false, "mark the entry incomplete")
	c.AddCommand(set)
	return c
}

func documentCmd() *cobra.Command {
	d := &cobra.Command{Use: "document", Short: "Manage process documents"}
	var opts engine.DocumentCreateOptions
	add := &cobra.Command{
		Use:   "add <process-id>",
		Short: "Register a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				opts.ProcessID, opts.Actor = args[0], actor
				doc, err := e.AddDocument(ctx, opts)
				if err != nil {
					return err
				}
				return printDocuments([]domain.Document{doc})
			})
		},
	}
	add.Flags().StringVar(&opts.Name, "name", "", "document name")
	add.Flags().StringVar(&opts.Category, "category", "", "document type, matched against required documents")
	add.Flags().StringVar(&opts.FieldID, "field-id", "", "file field this document satisfies")
	add.Flags().StringVar(&opts.DepartmentID, "department-id", "", "owning department")
	add.Flags().StringVar(&opts.StorageKey, "storage-key", "", "blob storage key")
	add.Flags().StringVar(&opts.Visibility, "visibility", domain.VisibilityPublic, "PUBLIC, ROLES, USERS or NONE")
	add.Flags().StringSliceVar(&opts.AllowedRoles, "allowed-roles", nil, "roles for ROLES visibility")
	add.Flags().StringSliceVar(&opts.AllowedUsers, "allowed-users", nil, "users for USERS visibility")
	_ = add.MarkFlagRequired("name")
	d.AddCommand(add)

	d.AddCommand(&cobra.Command{
		Use:   "list <process-id>",
		Short: "List documents visible to the actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				docs, err := e.ListDocuments(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printDocuments(docs)
			})
		},
	})
	d.AddCommand(&cobra.Command{
		Use:   "delete <document-id>",
		Short: "Move a document to the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				item, err := e.SoftDeleteDocument(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printTrashItems([]domain.TrashItem{item})
			})
		},
	})
	return d
}

func trashCmd() *cobra.Command {
	t := &cobra.Command{Use: "trash", Short: "Inspect and restore deleted items"}
	t.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List trash items visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				items, err := e.ListTrash(ctx, actor)
				if err != nil {
					return err
				}
				return printTrashItems(items)
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "restore <trash-id>",
		Short: "Restore a trash item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				res, err := e.Restore(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Kind == domain.TrashKindDocument {
					fmt.Printf("Restored document %s on process %s\n", res.DocumentID, res.ProcessID)
				} else {
					fmt.Printf("Restored process as %s\n", res.ProcessID)
				}
				for _, w := range res.Warnings {
					fmt.Printf("  warning: %s\n", w)
				}
				for entity, n := range res.Skipped {
					fmt.Printf("  skipped %d %s row(s)\n", n, entity)
				}
				return nil
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "delete <trash-id>",
		Short: "Permanently delete a trash item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := currentActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				if err := e.HardDelete(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Remove expired trash items now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sweeper, err := scheduler.NewSweeper(e, config.DefaultSweepSchedule, e.Log)
				if err != nil {
					return err
				}
				n, err := sweeper.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Purged %d expired item(s)\n", n)
				return nil
			})
		},
	})
	return t
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Audit trail"}
	var n int
	var kind string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events across all processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestHistory(ctx, n, kind)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				printHistory(events)
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&kind, "kind", "", "event kind filter")
	l.AddCommand(tail)
	return l
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	logger, err := observability.NewLogger("warn", false)
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

// currentActor builds the actor from flags, completing role and department
// from the directory when they are not given.
func currentActor(ctx context.Context, r repo.Repo) (auth.Actor, error) {
	a := auth.Actor{
		ID:           strings.TrimSpace(viper.GetString("actor-id")),
		Role:         strings.TrimSpace(viper.GetString("role")),
		DepartmentID: strings.TrimSpace(viper.GetString("department")),
	}
	if a.ID == "" {
		return a, fmt.Errorf("--actor-id is required")
	}
	if a.Role != "" && a.DepartmentID != "" {
		return a, nil
	}
	u, err := r.GetUser(ctx, a.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return a, nil
	}
	if err != nil {
		return a, err
	}
	if a.Role == "" {
		a.Role = u.Role
	}
	if a.DepartmentID == "" {
		a.DepartmentID = u.DepartmentID
	}
	return a, nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSONOrTable(v any, rows func(table.Writer)) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := newTable()
	rows(tw)
	fmt.Println(tw.Render())
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProcess(p domain.Process) error {
	return printJSONOrTable(p, func(tw table.Writer) {
		tw.SetTitle(p.Title)
		tw.AppendRows([]table.Row{
			{"ID", p.ID},
			{"Status", p.Status},
			{"Priority", p.Priority},
			{"Flow", strings.Join(p.Flow, " → ")},
			{"Department", fmt.Sprintf("%s (%d/%d)", p.CurrentDepartment(), p.CurrentIndex+1, len(p.Flow))},
			{"Progress", fmt.Sprintf("%d%%", p.Progress)},
			{"Parallel", p.ParallelMode},
			{"Version", p.Version},
			{"Updated", p.UpdatedAt},
		})
	})
}

func printChecklist(entries []domain.ChecklistEntry) {
	tw := newTable()
	tw.SetTitle("Checklist")
	tw.AppendHeader(table.Row{"#", "Department", "Done", "By", "At"})
	for _, c := range entries {
		tw.AppendRow(table.Row{c.Position + 1, c.DepartmentID, c.Completed, deref(c.CompletedBy), deref(c.CompletedAt)})
	}
	fmt.Println(tw.Render())
}

func printHistory(events []domain.HistoryEvent) {
	tw := newTable()
	tw.SetTitle("Events")
	tw.AppendHeader(table.Row{"At", "Process", "Kind", "Actor", "Department", "Description"})
	for _, h := range events {
		tw.AppendRow(table.Row{h.CreatedAt, h.ProcessID, h.Kind, h.ActorID, deref(h.DepartmentLabel), h.Description})
	}
	fmt.Println(tw.Render())
}

func printDocuments(docs []domain.Document) error {
	return printJSONOrTable(docs, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"ID", "Name", "Category", "Visibility", "Uploaded by"})
		for _, d := range docs {
			tw.AppendRow(table.Row{d.ID, d.Name, d.Category, d.Visibility, d.UploadedBy})
		}
	})
}

func printTrashItems(items []domain.TrashItem) error {
	return printJSONOrTable(items, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"ID", "Kind", "Title", "Deleted by", "Expires"})
		for _, t := range items {
			tw.AppendRow(table.Row{t.ID, t.Kind, t.Title, t.DeletedBy, t.ExpiresAt})
		}
	})
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	var ee *engine.Error
	if errors.As(err, &ee) {
		for _, is := range ee.Issues {
			fmt.Fprintf(os.Stderr, "  - %s\n", is.Message)
		}
	}
}

func exitCode(err error) int {
	switch engine.KindOf(err) {
	case engine.KindValidationFailed:
		return 3
	case engine.KindPermissionDenied:
		return 4
	case engine.KindNotFound:
		return 5
	}
	return 1
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
