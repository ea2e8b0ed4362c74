package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vibeline/internal/app"
	"vibeline/internal/config"
	"vibeline/internal/domain"
	"vibeline/internal/engine"
	"vibeline/internal/repo"
	"vibeline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vl",
	Short: "Vibeline CLI",
	Long: `Vibeline connects vibe coders with developers who finish their projects.
Core concepts:
- Workspace: your .vibeline directory holding the SQLite database.
- Vibe coders post tasks; developers apply, get approved, and pick tasks up.
- Applications: pending -> approved (becomes developer) or rejected (may resubmit).
- Tasks: open -> in_progress -> review -> completed; one developer per task.
- Task space: the collaboration view, open only to participants once work starts.
- Event log: diary of signups, applications, and task changes ('vl log tail').`,
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
	viper.SetEnvPrefix("VIBELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "act as this user email (defaults to the configured admin)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			rt, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer rt.Close()
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			fmt.Println("Workspace ready.")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				counts, err := rt.Engine.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				pending, err := rt.Engine.Repo.ListApplications(ctx, repo.ApplicationFilters{Status: domain.ApplicationPending})
				if err != nil {
					return err
				}
				out := map[string]any{
					"task_counts":          counts,
					"pending_applications": len(pending),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Println("Tasks:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Printf("Pending applications: %d\n", len(pending))
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userAddCmd())
	user.AddCommand(userListCmd())
	return user
}

func userAddCmd() *cobra.Command {
	var email, fullName, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.Signup(ctx, engine.SignupOptions{Email: email, FullName: fullName, Role: role})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&fullName, "full-name", "", "full name")
	cmd.Flags().StringVar(&role, "role", "", "role (vibe_coder or admin)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				users, err := rt.Engine.Repo.ListUsers(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Role"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.FullName, u.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func applicationCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "application",
		Short: "Manage developer applications",
		Long:  "Applications are how a vibe coder becomes a developer. Submit one, wait for an admin to approve, then start picking up tasks.",
	}
	a.AddCommand(applicationSubmitCmd())
	a.AddCommand(applicationListCmd())
	a.AddCommand(applicationGetCmd())
	a.AddCommand(applicationApproveCmd())
	a.AddCommand(applicationRejectCmd())
	return a
}

func applicationSubmitCmd() *cobra.Command {
	var opts engine.ApplicationSubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a developer application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				res, err := rt.Engine.SubmitApplication(ctx, p, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Email, "email", "", "email (defaults to the acting user's)")
	cmd.Flags().StringVar(&opts.FullName, "full-name", "", "full name")
	cmd.Flags().StringVar(&opts.Skills, "skills", "", "skills summary")
	cmd.Flags().StringVar(&opts.ExperienceLevel, "experience", "", "experience level")
	return cmd
}

func applicationListCmd() *cobra.Command {
	var f repo.ApplicationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				items, err := rt.Engine.ListApplications(ctx, p, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Status", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Email, a.FullName, a.Status, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func applicationGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				a, err := rt.Engine.GetApplication(ctx, p, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func applicationApproveCmd() *cobra.Command {
	return decideCmd("approve", "Approve an application (promotes the applicant to developer)")
}

func applicationRejectCmd() *cobra.Command {
	return decideCmd("reject", "Reject an application (the applicant may resubmit)")
}

func decideCmd(decision, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   decision + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				a, err := rt.Engine.DecideApplication(ctx, p, id, decision)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow open -> in_progress -> review -> completed. Assignment is first come first served; only the participants see a task's space once work starts.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskAdvanceCmd())
	task.AddCommand(taskProgressCmd())
	task.AddCommand(taskSpaceCmd())
	task.AddCommand(taskDraftCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var hours int
	var cost float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("hours") {
				opts.EstimatedHours = &hours
			}
			if cmd.Flags().Changed("cost") {
				opts.EstimatedCost = &cost
			}
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				t, err := rt.Engine.CreateTask(ctx, p, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().IntVar(&hours, "hours", 0, "estimated hours")
	cmd.Flags().Float64Var(&cost, "cost", 0, "estimated cost")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				tasks, err := rt.Engine.ListTasks(ctx, p, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Developer", "Progress"})
				for _, t := range tasks {
					dev := ""
					if t.DeveloperID != nil {
						dev = *t.DeveloperID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, dev, fmt.Sprintf("%d%%", t.Progress)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				t, err := rt.Engine.GetTask(ctx, p, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskAssignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Pick up an open task as the acting developer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				t, err := rt.Engine.AssignTask(ctx, p, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskAdvanceCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance a task's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				t, err := rt.Engine.AdvanceTask(ctx, p, id, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "to", "", "target status (review or completed)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskProgressCmd() *cobra.Command {
	var progress int
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Report progress on an in-progress task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				t, err := rt.Engine.UpdateProgress(ctx, p, id, progress)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().IntVar(&progress, "percent", 0, "progress percent (0-100)")
	_ = cmd.MarkFlagRequired("percent")
	return cmd
}

func taskSpaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "space <id>",
		Short: "Enter a task's collaboration space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				t, err := rt.Engine.TaskSpace(ctx, p, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDraftCmd() *cobra.Command {
	var idea string
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Draft a task description from an idea",
		Long:  "Sends the idea to the configured language model and prints a task description. Nothing is persisted; pipe the output into 'vl task create' when happy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				desc, err := rt.Engine.DraftTask(ctx, p, idea)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"description": desc})
				}
				fmt.Println(desc)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&idea, "idea", "", "rough idea to expand")
	_ = cmd.MarkFlagRequired("idea")
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
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				key, raw, err := rt.Engine.CreateAPIKey(ctx, p.ID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "name": key.Name, "key": raw})
				}
				fmt.Printf("ID:  %s\nKey: %s\n", key.ID, raw)
				fmt.Println("Store the key now; it cannot be shown again.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				keys, err := rt.Engine.Repo.ListAPIKeys(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withPrincipal(cmd.Context(), func(ctx context.Context, rt *app.Runtime, p domain.Principal) error {
				keys, err := rt.Engine.Repo.ListAPIKeys(ctx, p.ID)
				if err != nil {
					return err
				}
				for _, k := range keys {
					if k.ID == id {
						return rt.Engine.Repo.DeleteAPIKey(ctx, id)
					}
				}
				return fmt.Errorf("api key %s not found", id)
			})
		},
	}
	return cmd
}

func sessionCmd() *cobra.Command {
	s := &cobra.Command{Use: "session", Short: "Manage sessions"}
	s.AddCommand(sessionPruneCmd())
	return s
}

func sessionPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				n, err := rt.Engine.PruneSessions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int64{"pruned": n})
				}
				fmt.Printf("Pruned %d sessions\n", n)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: signups, applications, assignments, and status changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Engine.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			rt, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			if basePath == "" {
				basePath = rt.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{JWTSecret: rt.Config.Auth.JWTSecret}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = os.Getenv("VIBELINE_JWT_SECRET")
			}
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, BaseContext: cmd.Context()})
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
			fmt.Printf("Serving Vibeline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// withPrincipal resolves the acting user from --as, falling back to the
// configured admin. Engine authorization applies exactly as it does over HTTP.
func withPrincipal(ctx context.Context, fn func(context.Context, *app.Runtime, domain.Principal) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		email := strings.TrimSpace(viper.GetString("as"))
		if email == "" {
			email = rt.Config.Auth.AdminEmail
		}
		if email == "" {
			return fmt.Errorf("no acting user; pass --as <email> or set auth.admin_email in %s", config.Path(viper.GetString("workspace")))
		}
		p, err := rt.Engine.Repo.GetUserByEmail(ctx, strings.ToLower(email))
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("unknown user %s; register with 'vl user add --email %s'", email, email)
			}
			return err
		}
		return fn(ctx, rt, p)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
