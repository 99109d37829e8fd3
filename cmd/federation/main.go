package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goliatone/go-auth-federation/config"
	"github.com/goliatone/go-auth-federation/repository"
	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "federation",
		Short:         "Llave MX federation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("FEDERATION_CONFIG"), "path to the YAML config file")

	load := func() (*config.Config, error) {
		return config.LoadConfig(configPath)
	}

	root.AddCommand(
		newServeCommand(load),
		newMigrateCommand(load),
		newCasesCommand(load),
	)
	return root
}

type configLoader func() (*config.Config, error)

func newServeCommand(load configLoader) *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the login HTTP endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			app := fx.New(serverModule(cfg, migrateFirst))

			startCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			<-app.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return app.Stop(stopCtx)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply migrations before serving")
	return cmd
}

func newMigrateCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			names, err := repository.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				cmd.Println("database is up to date")
				return nil
			}
			for _, name := range names {
				cmd.Println("applied", name)
			}
			return nil
		},
	}
}

func newCasesCommand(load configLoader) *cobra.Command {
	cases := &cobra.Command{
		Use:   "cases",
		Short: "Inspect and resolve duplicate national ID cases",
	}

	cases.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open duplicate cases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(load, func(m *repository.Manager) error {
				open, err := m.DuplicateCases().ListOpen(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Println(print.MaybePrettyJSON(open))
				return nil
			})
		},
	})

	var note string
	resolve := &cobra.Command{
		Use:   "resolve <case-id>",
		Short: "Mark a duplicate case as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(load, func(m *repository.Manager) error {
				if err := m.DuplicateCases().Resolve(cmd.Context(), args[0], note); err != nil {
					return err
				}
				cmd.Println("resolved", args[0])
				return nil
			})
		},
	}
	resolve.Flags().StringVar(&note, "note", "", "resolution note")
	cases.AddCommand(resolve)

	return cases
}

func withManager(load configLoader, fn func(m *repository.Manager) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	db, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	m := repository.NewRepositoryManager(db)
	m.MustValidate()
	return fn(m)
}
