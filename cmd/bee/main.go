package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"appbee/internal/app"
	"appbee/internal/config"
	"appbee/internal/db"
	"appbee/internal/domain"
	"appbee/internal/engine"
	"appbee/internal/engine/auth"
	"appbee/internal/migrate"
	"appbee/internal/ranking"
	"appbee/internal/registry"
	"appbee/internal/repo"
	"appbee/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bee",
	Short: "AppBee CLI",
	Long: `AppBee is a marketplace where companies post paid tasks and engineers claim,
deliver and earn XP for them.
- Accounts: everyone registers as ENGINEER or COMPANY and waits in PENDING until an admin approves.
- Companies: company accounts post tasks with a price and a difficulty (EASY, MEDIUM, HARD).
- Tasks: PUBLISHED -> CLAIMED -> SUBMITTED -> APPROVED. Several engineers may work the same task.
- Approval: every engineer who claimed or submitted is credited the difficulty reward once.
- Leaderboard: approved engineers ranked by XP.
- Event log: every change is journaled; view with 'bee log tail'.
Most commands act as the account given with --as (id or email).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
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
	viper.SetEnvPrefix("APPBEE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "act as this account (id or email)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level for CLI commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage appbee.yml",
		Long:  "appbee.yml holds the listen address, token lifetime, XP rewards per difficulty and bootstrap seeds. Secrets live in the workspace .env.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default appbee.yml and a JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			envPath := filepath.Join(workspace, ".env")
			existing, err := godotenv.Read(envPath)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if existing["APPBEE_JWT_SECRET"] == "" {
				secret, err := randomSecret()
				if err != nil {
					return err
				}
				if err := setEnvValue(envPath, "APPBEE_JWT_SECRET", secret); err != nil {
					return err
				}
				fmt.Println("generated APPBEE_JWT_SECRET in", envPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				current, err := migrate.Current(ctx, env.DB)
				if err != nil {
					return err
				}
				latest, err := migrate.Latest()
				if err != nil {
					return err
				}
				migrations, err := migrate.Pending(ctx, env.DB)
				if err != nil {
					return err
				}
				pending, err := env.Repo.ListAccountsByState(ctx, domain.StatePending, "")
				if err != nil {
					return err
				}
				out := map[string]any{
					"database":           db.Path(env.Workspace),
					"schema_version":     current,
					"latest_version":     latest,
					"pending_migrations": len(migrations),
					"pending_accounts":   len(pending),
					"jwt_secret_set":     viper.GetString("jwt-secret") != "",
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{Use: "account", Short: "Register and moderate accounts"}
	acc.AddCommand(accountRegisterCmd())
	acc.AddCommand(accountShowCmd())
	acc.AddCommand(accountPendingCmd())
	acc.AddCommand(accountApproveCmd())
	acc.AddCommand(accountRejectCmd())
	acc.AddCommand(accountKeyCmd())
	acc.AddCommand(accountKeysCmd())
	return acc
}

func accountRegisterCmd() *cobra.Command {
	var opts registry.RegisterOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account (starts PENDING)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Password == "" {
				opts.Password = viper.GetString("password")
			}
			if opts.Password == "" {
				pw, err := promptPassword("Password: ")
				if err != nil {
					return err
				}
				opts.Password = pw
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				a, err := env.Registry.Register(ctx, opts)
				if err != nil {
					return err
				}
				return printAccounts([]domain.Account{a})
			})
		},
	}
	cmd.Flags().StringVar(&opts.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (or APPBEE_PASSWORD)")
	cmd.Flags().StringVar(&opts.Role, "role", "ENGINEER", "ENGINEER or COMPANY")
	cmd.Flags().StringVar(&opts.CompanyID, "company", "", "company id to join (COMPANY role)")
	return cmd
}

func accountShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [account-id]",
		Short: "Show an account (defaults to --as)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				id := p.AccountID
				if len(args) == 1 {
					id = args[0]
				}
				a, err := env.Registry.Get(ctx, p, id)
				if err != nil {
					return err
				}
				return printAccounts([]domain.Account{a})
			})
		},
	}
}

func accountPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List accounts awaiting approval (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				items, err := env.Registry.ListPending(ctx, p)
				if err != nil {
					return err
				}
				return printAccounts(items)
			})
		},
	}
}

func accountApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <account-id>",
		Short: "Approve a pending account (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				a, err := env.Registry.Approve(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printAccounts([]domain.Account{a})
			})
		},
	}
}

func accountRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <account-id>",
		Short: "Reject an account and free its email (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				if err := env.Registry.Reject(ctx, p, args[0]); err != nil {
					return err
				}
				fmt.Println("rejected", args[0])
				return nil
			})
		},
	}
}

func accountKeyCmd() *cobra.Command {
	var accountID, name string
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Mint an API key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				key, plain, err := env.Registry.CreateAPIKey(ctx, p, accountID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":         key.ID,
					"account_id": key.AccountID,
					"name":       key.Name,
					"key":        plain,
					"created_at": key.CreatedAt,
				})
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id (defaults to --as)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func accountKeysCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List API keys (hashes only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				keys, err := env.Registry.ListAPIKeys(ctx, p, accountID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id (defaults to --as)")
	return cmd
}

func companyCmd() *cobra.Command {
	c := &cobra.Command{Use: "company", Short: "Manage companies"}
	c.AddCommand(companyListCmd())
	c.AddCommand(companyCreateCmd())
	c.AddCommand(companyUpdateCmd())
	c.AddCommand(companyDeleteCmd())
	return c
}

func companyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				items, err := env.Registry.ListCompanies(ctx)
				if err != nil {
					return err
				}
				return printCompanies(items)
			})
		},
	}
}

func companyCreateCmd() *cobra.Command {
	var in registry.CompanyInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a company (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				c, err := env.Registry.CreateCompany(ctx, p, in)
				if err != nil {
					return err
				}
				return printCompanies([]domain.Company{c})
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "company name")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.OwnerAccountID, "owner", "", "owner account id")
	return cmd
}

func companyUpdateCmd() *cobra.Command {
	var name, desc, owner string
	cmd := &cobra.Command{
		Use:   "update <company-id>",
		Short: "Update a company (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch registry.CompanyPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &desc
			}
			if cmd.Flags().Changed("owner") {
				patch.OwnerAccountID = &owner
			}
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				c, err := env.Registry.UpdateCompany(ctx, p, args[0], patch)
				if err != nil {
					return err
				}
				return printCompanies([]domain.Company{c})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "company name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&owner, "owner", "", "owner account id (empty clears)")
	return cmd
}

func companyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <company-id>",
		Short: "Delete a company without tasks (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				if err := env.Registry.DeleteCompany(ctx, p, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Post and work tasks"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskGetCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskClaimCmd())
	t.AddCommand(taskSubmitCmd())
	t.AddCommand(taskApproveCmd())
	t.AddCommand(taskSubmissionsCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a task (company)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				t, err := env.Engine.CreateTask(ctx, p, opts)
				if err != nil {
					return err
				}
				return printTasks([]domain.TaskView{{Task: t}})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Int64Var(&opts.Price, "price", 0, "price")
	cmd.Flags().StringVar(&opts.Difficulty, "difficulty", "EASY", "EASY, MEDIUM or HARD")
	return cmd
}

func taskListCmd() *cobra.Command {
	var opts engine.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to --as",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				page, err := env.Engine.ListTasks(ctx, p, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				if err := printTasks(page.Items); err != nil {
					return err
				}
				if page.NextCursor != "" {
					fmt.Println("next cursor:", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "page size")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "page cursor")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <task-id>",
		Aliases: []string{"show"},
		Short:   "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				v, err := env.Engine.GetTask(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, difficulty string
	var price int64
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Edit a task; price and difficulty only while PUBLISHED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &desc
			}
			if cmd.Flags().Changed("price") {
				patch.Price = &price
			}
			if cmd.Flags().Changed("difficulty") {
				patch.Difficulty = &difficulty
			}
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				t, err := env.Engine.UpdateTask(ctx, p, args[0], patch)
				if err != nil {
					return err
				}
				return printTasks([]domain.TaskView{{Task: t}})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().Int64Var(&price, "price", 0, "price")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "EASY, MEDIUM or HARD")
	return cmd
}

func taskClaimCmd() *cobra.Command {
	var engineerID string
	cmd := &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Join a task as an engineer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				t, err := env.Engine.Claim(ctx, p, args[0], engineerID)
				if err != nil {
					return err
				}
				return printTasks([]domain.TaskView{{Task: t, ClaimedByMe: p.Is(domain.RoleEngineer)}})
			})
		},
	}
	cmd.Flags().StringVar(&engineerID, "engineer", "", "engineer id (admin only)")
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	cmd := &cobra.Command{
		Use:   "submit <task-id>",
		Short: "Deliver work for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				s, err := env.Engine.Submit(ctx, p, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "delivery notes")
	cmd.Flags().StringVar(&opts.AttachmentURL, "attachment", "", "attachment URL")
	cmd.Flags().StringVar(&opts.EngineerID, "engineer", "", "engineer id (admin only)")
	return cmd
}

func taskApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a task and credit its engineers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				res, err := env.Engine.Approve(ctx, p, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.AlreadyApproved {
					fmt.Printf("task %s was already approved; nobody credited\n", res.Task.ID)
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Engineer", "Submission", "XP", "Total XP"})
				for _, c := range res.Credits {
					tw.AppendRow(table.Row{c.EngineerID, c.SubmissionID, c.XP, c.TotalXP})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskSubmissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submissions <task-id>",
		Short: "List the submission ledger of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				items, err := env.Engine.ListSubmissions(ctx, p, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Engineer", "Email", "Claimed", "Submitted", "Approved", "XP"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.EngineerName, s.EngineerEmail, stringOrDash(s.ClaimedAt), stringOrDash(s.SubmittedAt), s.Approved, s.XPAwarded})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func leaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show top engineers by XP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				board, err := env.Ranking.TopEngineers(ctx, p, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board.Entries())
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Engineer", "XP", "Level"})
				for rank, e := range board.All() {
					tw.AppendRow(table.Row{rank, e.FullName, e.XP, e.Level})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of engineers (0 uses the configured default)")
	return cmd
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	t.AddCommand(&cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for --as (local operator use)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, env cliEnv, p auth.Principal) error {
				a, err := env.Repo.GetAccount(ctx, nil, p.AccountID)
				if err != nil {
					return err
				}
				token, exp, err := env.Gate.IssueToken(a)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"access_token": token,
					"token_type":   "Bearer",
					"expires_at":   exp.UTC().Format(time.RFC3339),
				})
			})
		},
	})
	return t
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event journal"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				items, err := env.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the AppBee HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			if err != nil {
				return err
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("APPBEE_JWT_SECRET is required for bearer auth; run bee config init")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env := newEnv(workspace, conn, cfg, logger, secret)
			boot, err := app.Bootstrap(ctx, env.Registry, cfg, viper.GetString("admin-password"))
			if err != nil {
				return err
			}
			logger.Info().
				Bool("admin_created", boot.AdminCreated).
				Int("companies_created", len(boot.CompaniesCreated)).
				Msg("bootstrap complete")

			handler, err := server.New(server.Config{
				Engine:   env.Engine,
				Registry: env.Registry,
				Ranking:  env.Ranking,
				Gate:     env.Gate,
				Log:      logger,
				BasePath: basePath,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("shutdown")
				}
			}()
			logger.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving AppBee API (OpenAPI at /openapi.json, Swagger UI at /docs)")
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
	Workspace string
	DB        *sql.DB
	Repo      repo.Repo
	Config    *config.Config
	Engine    engine.Engine
	Registry  registry.Registry
	Ranking   ranking.Projector
	Gate      auth.Gate
}

func newEnv(workspace string, conn *sql.DB, cfg *config.Config, logger zerolog.Logger, secret string) cliEnv {
	r := repo.Repo{DB: conn}
	return cliEnv{
		Workspace: workspace,
		DB:        conn,
		Repo:      r,
		Config:    cfg,
		Engine:    engine.New(conn, cfg, logger),
		Registry:  registry.New(conn, logger),
		Ranking:   ranking.Projector{Repo: r, Config: cfg},
		Gate: auth.Gate{
			Repo:   r,
			Secret: []byte(secret),
			Issuer: cfg.Auth.Issuer,
			TTL:    cfg.TokenTTLDuration(),
		},
	}
}

func loadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func withEnv(ctx context.Context, fn func(context.Context, cliEnv) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(viper.GetString("log-level"), "console", os.Stderr)
	if err != nil {
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
	return fn(ctx, newEnv(workspace, conn, cfg, logger, viper.GetString("jwt-secret")))
}

// withActor resolves --as against the account store before running fn.
func withActor(ctx context.Context, fn func(context.Context, cliEnv, auth.Principal) error) error {
	return withEnv(ctx, func(ctx context.Context, env cliEnv) error {
		p, err := resolveActor(ctx, env, viper.GetString("as"))
		if err != nil {
			return err
		}
		return fn(ctx, env, p)
	})
}

func resolveActor(ctx context.Context, env cliEnv, as string) (auth.Principal, error) {
	as = strings.TrimSpace(as)
	if as == "" {
		return auth.Principal{}, fmt.Errorf("--as required (account id or email)")
	}
	if strings.Contains(as, "@") {
		a, err := env.Repo.GetAccountByEmail(ctx, nil, as)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return auth.Principal{}, fmt.Errorf("no active account with email %s", as)
			}
			return auth.Principal{}, err
		}
		return auth.FromAccount(a, auth.SourceLocal), nil
	}
	return env.Gate.ResolveAccount(ctx, as, auth.SourceLocal)
}

func printAccounts(items []domain.Account) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "State", "XP", "Level"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.FullName, a.Email, a.Role, a.ApprovalState, a.XP, a.Level()})
	}
	tw.Render()
	return nil
}

func printCompanies(items []domain.Company) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Description"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.ID, c.Name, stringOrDash(c.OwnerAccountID), c.Description})
	}
	tw.Render()
	return nil
}

func printTasks(items []domain.TaskView) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Difficulty", "Price", "Engineers", "Mine"})
	for _, t := range items {
		mine := ""
		switch {
		case t.SubmittedByMe:
			mine = "submitted"
		case t.ClaimedByMe:
			mine = "claimed"
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status.Badge(), t.Difficulty, t.Price, len(t.AssignedEngineers), mine})
	}
	tw.Render()
	return nil
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

func stringOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// promptPassword reads a password without echo. Off a terminal it returns
// an empty string and lets validation report the missing value.
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
