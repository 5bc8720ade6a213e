package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"catalogd/pkg/db"
	"catalogd/services/blueprints"
	"catalogd/services/blueprints/internal/app"
	"catalogd/services/blueprints/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "blueprintsctl",
		Short:         "Administer the catalogd blueprints service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newRolesCommand())
	cmd.AddCommand(newUsersCommand())
	cmd.AddCommand(newCatalogCommand())
	cmd.AddCommand(newBlueprintsCommand())
	cmd.AddCommand(newEventsCommand())
	cmd.AddCommand(newManifestsCommand())
	return cmd
}

func group(use, short string, children ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(children...)
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withEnv loads configuration, opens every backend and hands them to fn.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, cfg config.Config, env *app.Env) error) error {
	ctx := commandContext(cmd)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env, err := app.Open(ctx, cfg, app.Options{Logger: app.NewLogger(cfg)})
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, cfg, env)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := db.Open(ctx, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newRolesCommand() *cobra.Command {
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create or reset the default roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, _ config.Config, env *app.Env) error {
				return env.Access.SeedRoles(ctx)
			})
		},
	}

	var grants []string
	put := &cobra.Command{
		Use:   "put <name>",
		Short: "Create a role or replace its grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, _ config.Config, env *app.Env) error {
				return env.Access.PutRole(ctx, args[0], grants...)
			})
		},
	}
	put.Flags().StringSliceVar(&grants, "grant", nil, "Capability pattern granted by the role (repeatable)")
	_ = put.MarkFlagRequired("grant")

	list := &cobra.Command{
		Use:   "list",
		Short: "List roles and their grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, _ config.Config, env *app.Env) error {
				roles, err := env.Access.Roles(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), roles)
			})
		},
	}

	return group("roles", "Manage access roles", seed, put, list)
}

func newUsersCommand() *cobra.Command {
	var (
		name     string
		password string
		roles    []string
	)

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user or reset its password and roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, _ config.Config, env *app.Env) error {
				caller, err := env.Access.PutUser(ctx, name, password, roles...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), caller)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "User name")
	create.Flags().StringVar(&password, "password", "", "Password")
	create.Flags().StringSliceVar(&roles, "role", nil, "Role to assign (repeatable)")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("password")

	return group("users", "Manage API users", create)
}

func newCatalogCommand() *cobra.Command {
	var description string

	addDialog := &cobra.Command{
		Use:   "add <label>",
		Short: "Add a service dialog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, _ config.Config, env *app.Env) error {
				d, err := env.Catalog.AddDialog(ctx, args[0], description)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
	addDialog.Flags().StringVar(&description, "description", "", "Description")

	addCatalog := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a service catalog, or return the existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, _ config.Config, env *app.Env) error {
				sc, err := env.Catalog.AddServiceCatalog(ctx, args[0], description)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sc)
			})
		},
	}
	addCatalog.Flags().StringVar(&description, "description", "", "Description")

	var provType string
	addTemplate := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a service template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, _ config.Config, env *app.Env) error {
				st, err := env.Catalog.AddTemplate(ctx, args[0], description, provType)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	addTemplate.Flags().StringVar(&description, "description", "", "Description")
	addTemplate.Flags().StringVar(&provType, "prov-type", "generic", "Provisioning type")

	removeTemplate := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a service template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid template id %q", args[0])
			}
			return withEnv(cmd, func(ctx context.Context, _ config.Config, env *app.Env) error {
				return env.Catalog.RemoveTemplate(ctx, id)
			})
		},
	}

	return group("catalog", "Manage dialogs, service catalogs and templates",
		group("dialogs", "Service dialogs", addDialog),
		group("catalogs", "Service catalogs", addCatalog),
		group("templates", "Service templates", addTemplate, removeTemplate),
	)
}

func newBlueprintsCommand() *cobra.Command {
	publish := &cobra.Command{
		Use:   "publish <id>",
		Short: "Publish a blueprint without going through the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid blueprint id %q", args[0])
			}
			return withEnv(cmd, func(ctx context.Context, _ config.Config, env *app.Env) error {
				bp, err := env.Publisher.Publish(blueprints.WithActor(ctx, "blueprintsctl"), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), bp)
			})
		},
	}

	return group("blueprints", "Blueprint operations", publish)
}

func newEventsCommand() *cobra.Command {
	var durable string

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print publish events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, cfg config.Config, env *app.Env) error {
				if env.Bus == nil {
					return errors.New("NATS_URL is not set")
				}
				out := cmd.OutOrStdout()
				sub, err := env.Bus.Subscribe(ctx, blueprints.PublishedSubject, durable, func(_ context.Context, data []byte) error {
					var evt blueprints.PublishedEvent
					if err := json.Unmarshal(data, &evt); err != nil {
						return err
					}
					return printJSON(out, evt)
				})
				if err != nil {
					return err
				}
				defer sub.Close()
				<-ctx.Done()
				return nil
			})
		},
	}
	watch.Flags().StringVar(&durable, "durable", "", "Durable consumer name; empty only sees new events")

	return group("events", "Blueprint event stream", watch)
}

func newManifestsCommand() *cobra.Command {
	var ttl time.Duration

	url := &cobra.Command{
		Use:   "url <blueprint-id>",
		Short: "Print a presigned URL for the archived bundle manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid blueprint id %q", args[0])
			}
			return withEnv(cmd, func(ctx context.Context, cfg config.Config, env *app.Env) error {
				if env.Objects == nil {
					return errors.New("S3 is not configured")
				}
				bundle, err := env.Store.Bundle(ctx, id)
				if err != nil {
					return fmt.Errorf("blueprint %s has no bundle: %w", id, err)
				}
				recipients, err := cfg.Recipients()
				if err != nil {
					return err
				}
				key := blueprints.ArchiveKey(id, bundle.ID, len(recipients) > 0)
				link, err := env.Objects.PresignGet(ctx, cfg.S3.Bucket, key, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), link)
				return nil
			})
		},
	}
	url.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "Lifetime of the presigned URL")

	return group("manifests", "Archived bundle manifests", url)
}
