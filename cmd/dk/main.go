package main

import (
	"context"
	"database/sql"
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

	"deskline/internal/audit"
	"deskline/internal/bus"
	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/domain"
	"deskline/internal/identity"
	"deskline/internal/migrate"
	"deskline/internal/ops"
	"deskline/internal/server"
	"deskline/internal/store"
	"deskline/internal/validate"
)

var rootCmd = &cobra.Command{
	Use:   "dk",
	Short: "Deskline CLI",
	Long: `Deskline dispatches permissioned operations and runs field validations.
- Operations: named queries and actions (count.users, create.tenant, ...) that
  are authorized per actor role and tenant before they execute.
- Fields: configured form fields (CURP, RFC, email, ...) each carrying a list
  of validation rules with a hard or soft level.
- Validations: running a field executes every rule, collects one result per
  rule in order, and records one audit job per rule regardless of outcome.
- Workspace: the .deskline directory holding the SQLite database; settings
  live in deskline.yml next to it.`,
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
	viper.SetEnvPrefix("DESKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", string(domain.RoleSuperAdmin), "actor role")
	rootCmd.PersistentFlags().String("tenant", "", "actor tenant id (empty for staff actors)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(opCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func localActor() domain.Actor {
	return domain.Actor{
		ID:       viper.GetString("actor-id"),
		Role:     domain.Role(viper.GetString("role")),
		TenantID: viper.GetString("tenant"),
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(func(conn *sql.DB) error {
				fmt.Println("migrations applied")
				return nil
			})
		},
	}
}

func opCmd() *cobra.Command {
	op := &cobra.Command{
		Use:   "op",
		Short: "Dispatch operations",
		Long:  "Operations are named queries and actions. Dispatch looks the operation up, authorizes the acting role (and tenant where required), parses the input and executes.",
	}
	op.AddCommand(opListCmd())
	op.AddCommand(opCallCmd())
	return op
}

func opListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				type opInfo struct {
					ID            string   `json:"id"`
					Kind          bus.Kind `json:"kind"`
					TenantAware   bool     `json:"tenant_aware"`
					RequireTenant bool     `json:"require_tenant"`
				}
				var items []opInfo
				for _, o := range env.Engine.Registry.List() {
					items = append(items, opInfo{ID: o.ID, Kind: o.Kind, TenantAware: o.TenantAware, RequireTenant: o.RequireTenant})
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Tenant-aware", "Requires tenant"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.Kind, o.TenantAware, o.RequireTenant})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func opCallCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "call <id>",
		Short: "Dispatch an operation as the local actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opID := args[0]
			raw := json.RawMessage(input)
			if input == "" {
				raw = json.RawMessage(`{}`)
			}
			if !json.Valid(raw) {
				return fmt.Errorf("--input must be valid JSON")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				out, err := env.Engine.Dispatch(ctx, opID, raw, localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "operation input JSON")
	return cmd
}

func validateCmd() *cobra.Command {
	var value, ticketID string
	cmd := &cobra.Command{
		Use:   "validate <field-id>",
		Short: "Run every validation rule of a field",
		Long:  "Runs all rules attached to the field against the given value, printing one result per rule in rule order. Every run appends one audit job per rule.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fieldID := args[0]
			return withEnv(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				field, ok := env.App.FieldByID(fieldID)
				if !ok {
					return fmt.Errorf("unknown field %q (see 'dk field list')", fieldID)
				}
				results, err := env.Runner.Run(ctx, field, value, validate.RunContext{
					TicketID: ticketID,
					Actor:    localActor(),
				})
				if err != nil {
					return err
				}
				status := validate.Aggregate(results)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"status": status, "results": results})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Validator", "Level", "Status", "Summary"})
				for i, r := range results {
					tw.AppendRow(table.Row{field.Rules[i].Validator, field.Rules[i].Level, r.Status, r.Summary})
				}
				tw.Render()
				fmt.Println("aggregate:", status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "value to validate")
	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket id for the audit trail")
	return cmd
}

func fieldCmd() *cobra.Command {
	f := &cobra.Command{Use: "field", Short: "Inspect configured fields"}
	f.AddCommand(fieldListCmd())
	return f
}

func fieldListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fields and their rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg.Fields)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Label", "Type", "Rules"})
			for _, f := range cfg.Fields {
				var rules []string
				for _, r := range f.Rules {
					rules = append(rules, fmt.Sprintf("%s (%s)", r.Validator, r.Level))
				}
				tw.AppendRow(table.Row{f.ID, f.Label, f.Type, strings.Join(rules, ", ")})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the validation audit trail",
	}
	a.AddCommand(auditTailCmd())
	return a
}

func auditTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest audit jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				jobs, err := audit.SQLiteSink{DB: env.Conn}.Tail(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Field", "Validator", "Level", "Status", "Ran by"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.TS, j.FieldID, j.Validator, j.Level, j.Status, j.RanBy.UID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of jobs")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage deskline.yml",
		Long:  "Settings live in deskline.yml: server address and timeouts, the JWT secret, audit webhooks, and the field catalog with validation rules.",
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
		Short: "Write a default deskline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
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

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Issue bearer tokens"}
	t.AddCommand(tokenIssueCmd())
	return t
}

func tokenIssueCmd() *cobra.Command {
	var email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a JWT for the local actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := jwtSecret()
			if secret == "" {
				return fmt.Errorf("no JWT secret: set auth.jwt_secret in deskline.yml or DESKLINE_JWT_SECRET")
			}
			actor := localActor()
			tok, err := identity.Verifier{Secret: secret}.Issue(identity.Credential{
				UID:      actor.ID,
				Email:    email,
				Role:     actor.Role,
				TenantID: actor.TenantID,
			}, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
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
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			secret := jwtSecret()
			if secret == "" {
				return fmt.Errorf("no JWT secret: set auth.jwt_secret in deskline.yml or DESKLINE_JWT_SECRET")
			}
			env, err := buildEnv(conn, cfg)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Bus:      env.Engine,
				Runner:   env.Runner,
				App:      cfg,
				BasePath: basePath,
				Auth:     server.AuthConfig{Verifier: identity.Verifier{Secret: secret}},
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
			fmt.Printf("Serving Deskline API on http://%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

// --- helpers ---

type cliEnv struct {
	Conn   *sql.DB
	App    *config.Config
	Engine bus.Engine
	Runner validate.Runner
}

func buildEnv(conn *sql.DB, cfg *config.Config) (cliEnv, error) {
	reg, err := ops.Registry(ops.Deps{Store: store.NewSQLite(conn)})
	if err != nil {
		return cliEnv{}, err
	}
	engine := bus.New(reg)
	engine.Timeout = cfg.OpTimeout()
	var sinks audit.Fanout
	sinks = append(sinks, audit.SQLiteSink{DB: conn})
	for _, wh := range cfg.Audit.Webhooks {
		if wh.Enabled != nil && !*wh.Enabled {
			continue
		}
		sinks = append(sinks, audit.NewWebhookSink(wh.URL))
	}
	runner := validate.NewRunner(validate.Builtin(), sinks)
	runner.Timeout = cfg.ValidatorTimeout()
	return cliEnv{Conn: conn, App: cfg, Engine: engine, Runner: runner}, nil
}

func withEnv(ctx context.Context, fn func(context.Context, cliEnv) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	env, err := buildEnv(conn, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, env)
}

func withConn(fn func(*sql.DB) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(conn)
}

func jwtSecret() string {
	if s := os.Getenv("DESKLINE_JWT_SECRET"); s != "" {
		return s
	}
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return ""
	}
	return cfg.Auth.JWTSecret
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
