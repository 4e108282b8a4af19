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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/app"
	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/migrate"
	"leadline/internal/notify"
	"leadline/internal/repo"
	"leadline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ll",
	Short: "Leadline CLI",
	Long: `Leadline tracks recruitment leads through a role-gated status pipeline.
- Workspace: your .leadline directory holding the database; leadline.yml configures the server and pipeline.
- Leads: prospects that flow new -> scheduled -> completed, then hand off to accounts for accounts_pending -> ready_for_class -> register.
- Roles: hr works the front of the pipeline, accounts the back; managers can do everything; admins narrow via sub-roles.
- Claiming: unowned accounts_pending leads are up for grabs; the first accounts user to move one owns it.
- History: every status change is recorded append-only, view with 'll lead history'.`,
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
	viper.SetEnvPrefix("LEADLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default leadline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("database up to date")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				counts, err := e.Repo.CountLeadsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"lead_counts": counts})
				}
				fmt.Println("Leads:")
				for _, s := range domain.AllStatuses {
					if c, ok := counts[string(s)]; ok {
						fmt.Printf("  %s: %d\n", s, c)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func leadCmd() *cobra.Command {
	lead := &cobra.Command{
		Use:   "lead",
		Short: "Manage leads",
		Long:  "Leads are prospects in the pipeline. hr sources and schedules them; once completed they hand off to accounts, who claim, confirm payment, and register them.",
	}
	lead.AddCommand(leadCreateCmd())
	lead.AddCommand(leadListCmd())
	lead.AddCommand(leadShowCmd())
	lead.AddCommand(leadTransitionCmd())
	lead.AddCommand(leadClaimCmd())
	lead.AddCommand(leadReassignCmd())
	lead.AddCommand(leadHistoryCmd())
	lead.AddCommand(leadClaimableCmd())
	return lead
}

func leadCreateCmd() *cobra.Command {
	var opts engine.LeadCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				opts.Actor = actor
				l, err := e.CreateLead(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "lead id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "lead name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Course, "course", "", "course of interest")
	cmd.Flags().StringVar(&opts.Source, "source", "", "acquisition source")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func leadListCmd() *cobra.Command {
	var f repo.LeadFilters
	var status string
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				f.Status = domain.Status(status)
				if mine {
					f.OwnerID = actor.ID
				}
				leads, err := e.Repo.ListLeads(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Owner", "Course"})
				for _, l := range leads {
					owner := ""
					if l.CurrentOwnerID != nil {
						owner = *l.CurrentOwnerID
					}
					tw.AppendRow(table.Row{l.ID, l.Name, l.Status, owner, l.Course})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner-id", "", "owner filter")
	cmd.Flags().BoolVar(&mine, "mine", false, "only leads owned by the acting user")
	cmd.Flags().BoolVar(&f.Claimable, "claimable", false, "only unowned accounts-stage leads")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func leadShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				l, err := e.Repo.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	return cmd
}

func leadTransitionCmd() *cobra.Command {
	var reason string
	var amount int64
	cmd := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Move a lead to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				opts := engine.TransitionOptions{
					LeadID:    args[0],
					Requested: domain.Status(args[1]),
					Actor:     actor,
					Reason:    reason,
				}
				if cmd.Flags().Changed("amount") {
					opts.RegistrationAmount = &amount
				}
				l, entry, err := e.Transition(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"lead": l, "entry": entry})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "free-form reason recorded in history")
	cmd.Flags().Int64Var(&amount, "amount", 0, "registration amount")
	return cmd
}

func leadClaimCmd() *cobra.Command {
	var status, reason string
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim an unowned accounts_pending lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				l, entry, err := e.Claim(ctx, args[0], domain.Status(status), actor, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"lead": l, "entry": entry})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status (defaults from config)")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form reason recorded in history")
	return cmd
}

func leadReassignCmd() *cobra.Command {
	var ownerID, reason string
	cmd := &cobra.Command{
		Use:   "reassign <id>",
		Short: "Reassign lead ownership (manager only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				l, entry, err := e.Reassign(ctx, args[0], ownerID, actor, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"lead": l, "entry": entry})
			})
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "new owner (empty clears ownership)")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form reason recorded in history")
	return cmd
}

func leadHistoryCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show a lead's audit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				var entries []domain.HistoryEntry
				var err error
				if from != "" || to != "" {
					entries, err = e.History.Between(ctx, args[0], from, to)
				} else {
					entries, err = e.History.HistoryFor(ctx, args[0])
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "To", "By", "Reason"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.ChangedAt, en.PreviousStatus, en.NewStatus, en.ChangedByUserID, en.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start of time range (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "end of time range (RFC3339)")
	return cmd
}

func leadClaimableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claimable",
		Short: "List unowned accounts-stage leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				leads, err := e.ClaimableLeads(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(leads)
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userAddCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userShowCmd())
	user.AddCommand(userSetSubRoleCmd())
	return user
}

func userAddCmd() *cobra.Command {
	var u domain.User
	var role, subRole string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if u.ID == "" {
					u.ID = uuid.New().String()
				}
				u.Role = domain.Role(role)
				u.SubRole = domain.SubRole(subRole)
				if u.SubRole != domain.SubRoleNone && u.Role != domain.RoleAdmin {
					return fmt.Errorf("sub-role is only valid for admin users")
				}
				u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
				if err := r.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&u.ID, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&u.Name, "name", "", "display name")
	cmd.Flags().StringVar(&u.Email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "", "role (hr, accounts, session-coordinator, manager, admin, team_lead, tech-support)")
	cmd.Flags().StringVar(&subRole, "sub-role", "", "admin sub-role (admin_organizer, session_organizer)")
	cmd.Flags().StringVar(&u.TeamID, "team-id", "", "team id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Sub-role", "Team"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role, u.SubRole, u.TeamID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-email>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUser(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) && strings.Contains(args[0], "@") {
					u, err = r.GetUserByEmail(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userSetSubRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-subrole <id> <sub-role>",
		Short: "Set an admin's sub-role (empty string clears it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				target, err := r.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				if target.Role != domain.RoleAdmin && args[1] != "" {
					return fmt.Errorf("sub-role is only valid for admin users")
				}
				if err := r.SetSubRole(ctx, args[0], domain.SubRole(args[1])); err != nil {
					return err
				}
				target.SubRole = domain.SubRole(args[1])
				return printJSONOrTable(target)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetUser(ctx, userID); err != nil {
					return err
				}
				rawKey := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(rawKey),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":      key.ID,
					"user_id": key.UserID,
					"name":    key.Name,
					"key":     rawKey,
				})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "filter by user")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func historyCmd() *cobra.Command {
	hist := &cobra.Command{Use: "history", Short: "Query the audit log"}
	hist.AddCommand(historyRecentCmd())
	return hist
}

func historyRecentCmd() *cobra.Command {
	var status string
	var n int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Recent moves into a status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				if !domain.ValidStatus(domain.Status(status)) {
					return fmt.Errorf("unknown status %q", status)
				}
				entries, err := e.History.RecentByStatus(ctx, domain.Status(status), n)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status entries moved into")
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, _, err := app.ResolveActorAndConfig(cmd.Context(), workspace, viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			jwtSecret := os.Getenv("LEADLINE_JWT_SECRET")
			if jwtSecret == "" {
				jwtSecret = cfg.Auth.JWTSecret
			}
			if jwtSecret == "" && !cfg.Auth.AllowLegacyActorHeader {
				return fmt.Errorf("LEADLINE_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              jwtSecret,
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			notify.Start(e.History, cfg.Webhooks)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Leadline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.User) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, actor, err := app.ResolveActorAndConfig(ctx, workspace, viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e, actor)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
