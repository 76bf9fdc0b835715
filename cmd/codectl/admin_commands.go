package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"codealloc/internal/core/code"
	"codealloc/internal/domain/auth"
	"codealloc/internal/infrastructure/http/v1/dto"
	"codealloc/internal/infrastructure/storage/postgres"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.TxManager == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No database configured, nothing to migrate")
				return nil
			}

			applied, err := a.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		},
	}
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		subject string
		roles   []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.JWT == nil {
				return errors.New("ADMIN_JWT_SECRET is not set")
			}

			token, expires, err := a.JWT.Issue(subject, roles...)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, map[string]any{"token": token, "expiresAt": expires})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject, recorded on rotations")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleAdmin}, "Roles granted by the token")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var (
		kind  string
		key   string
		event string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent allocations and rotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.Audit == nil {
				return errors.New("the audit log needs DATABASE_URL")
			}

			filter := postgres.AuditFilter{SequenceKey: key, Event: postgres.AuditEvent(event), Limit: limit}
			if kind != "" {
				k, err := code.ParseKind(kind)
				if err != nil {
					return err
				}
				filter.Kind = k
			}
			entries, err := a.Audit.Recent(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, dto.NewListResponse(entries))
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-24s first=%d count=%d by %s\n",
					e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.Event, e.SequenceKey,
					e.FirstSequence, e.Count, e.Actor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by code kind")
	cmd.Flags().StringVar(&key, "key", "", "Filter by sequence key")
	cmd.Flags().StringVar(&event, "event", "", "Filter by event (allocate, rotate)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries")
	return cmd
}
