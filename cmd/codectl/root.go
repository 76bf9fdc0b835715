package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"codealloc/internal/app"
	appctx "codealloc/internal/core/context"
	"codealloc/pkg/logger"
)

type appLoader func(ctx context.Context) (*app.App, error)

func loadFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := app.LoadEnv()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

type commandContext struct {
	load appLoader

	jsonOutput bool
	actor      string
	logLevel   string

	once sync.Once
	app  *app.App
	err  error
}

func (c *commandContext) ensureApp(ctx context.Context) (*app.App, error) {
	c.once.Do(func() {
		c.app, c.err = c.load(ctx)
	})
	return c.app, c.err
}

func (c *commandContext) close() {
	if c.app != nil {
		c.app.Close()
	}
}

// newRootCommand builds the CLI. A nil load reads configuration from the
// environment.
func newRootCommand(load appLoader) *cobra.Command {
	if load == nil {
		load = loadFromEnv
	}
	ctx := &commandContext{load: load}

	rootCmd := &cobra.Command{
		Use:           "codectl",
		Short:         "Administer ISRC and UPC code allocation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(logger.Config{Level: ctx.logLevel, OutputPaths: []string{"stderr"}})
			if err != nil {
				return err
			}
			base := cmd.Context()
			if base == nil {
				base = context.Background()
			}
			base = logger.WithLogger(base, log)
			base = appctx.WithActor(base, &appctx.Actor{Subject: ctx.actor})
			base = appctx.WithTrace(base, appctx.NewTraceContext())
			cmd.SetContext(base)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOutput, "json", false, "Print JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&ctx.actor, "actor", "codectl", "Name recorded as the author of changes")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "warn", "Log level written to stderr")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newInitCommand(ctx))
	rootCmd.AddCommand(newRotateCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newPeekCommand(ctx))
	rootCmd.AddCommand(newAdvanceCommand(ctx))
	rootCmd.AddCommand(newAllocateCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))
	rootCmd.AddCommand(newAuditCommand(ctx))

	return rootCmd
}
