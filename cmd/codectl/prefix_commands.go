package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"codealloc/internal/core/code"
	"codealloc/internal/infrastructure/http/v1/dto"
)

type prefixFlags struct {
	country      string
	registrant   string
	manufacturer string
}

func (f *prefixFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.country, "country", "", "ISRC country code (2 letters)")
	cmd.Flags().StringVar(&f.registrant, "registrant", "", "ISRC registrant code (3 alphanumerics)")
	cmd.Flags().StringVar(&f.manufacturer, "manufacturer", "", "UPC manufacturer code (6-10 digits)")
}

func (f *prefixFlags) fields() code.PrefixFields {
	return code.PrefixFields{
		CountryCode:      f.country,
		RegistrantCode:   f.registrant,
		ManufacturerCode: f.manufacturer,
	}
}

func newInitCommand(ctx *commandContext) *cobra.Command {
	var flags prefixFlags
	cmd := &cobra.Command{
		Use:   "init KIND",
		Short: "Configure the first prefix of a code kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := code.ParseKind(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			cfg, created, err := a.Registry.Initialize(cmd.Context(), kind, flags.fields())
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, dto.FromPrefixConfig(*cfg, false))
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", cfg.Key())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Already configured: %s (use rotate to change it)\n", cfg.Key())
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRotateCommand(ctx *commandContext) *cobra.Command {
	var (
		flags  prefixFlags
		reason string
	)
	cmd := &cobra.Command{
		Use:   "rotate KIND",
		Short: "Replace the active prefix of a code kind",
		Long:  "Replace the active prefix. Issued codes are never renumbered; new allocations start a fresh sequence.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := code.ParseKind(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			cfg, err := a.Registry.RotatePrefix(cmd.Context(), kind, flags.fields(), reason)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, dto.FromPrefixConfig(*cfg, false))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active prefix is now %s\n", cfg.Key())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&reason, "reason", "", "Why the prefix changes")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show KIND",
		Short: "Show the active prefix and its counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := code.ParseKind(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			cfg, err := a.Engine.CurrentConfig(cmd.Context(), kind)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, dto.FromPrefixConfig(*cfg, true))
			}
			printPrefix(cmd.OutOrStdout(), *cfg)
			fmt.Fprintf(cmd.OutOrStdout(), "Last:     %d of %d\n", cfg.LastSequence, code.Capacity(*cfg))
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history KIND",
		Short: "List superseded prefixes, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := code.ParseKind(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			items, err := a.Registry.History(cmd.Context(), kind, limit)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				out := make([]dto.PrefixResponse, len(items))
				for i, cfg := range items {
					out[i] = dto.FromPrefixConfig(cfg, false)
				}
				return writeJSON(cmd, dto.NewListResponse(out))
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No superseded prefixes")
				return nil
			}
			for _, cfg := range items {
				superseded := "-"
				if cfg.SupersededAt != nil {
					superseded = cfg.SupersededAt.UTC().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s superseded %s  %s\n", cfg.Key(), superseded, cfg.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	return cmd
}

func printPrefix(out io.Writer, cfg code.PrefixConfig) {
	fmt.Fprintf(out, "Kind:     %s\n", cfg.Kind)
	fmt.Fprintf(out, "Prefix:   %s\n", cfg.Prefix())
	fmt.Fprintf(out, "Period:   %s\n", cfg.Period)
	fmt.Fprintf(out, "Key:      %s\n", cfg.Key())
	fmt.Fprintf(out, "Version:  %d\n", cfg.Version)
	if cfg.CreatedBy != "" {
		fmt.Fprintf(out, "Set by:   %s (%s)\n", cfg.CreatedBy, cfg.Reason)
	}
}
