package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"codealloc/internal/core/code"
	"codealloc/internal/domain/allocation"
	"codealloc/internal/infrastructure/http/v1/dto"
)

func newPeekCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "peek SEQUENCE_KEY",
		Short: "Print the last issued number of a sequence, e.g. ISRC/US-ABC/24",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := code.ParseSequenceKey(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			last, err := a.Engine.PeekSequence(cmd.Context(), key)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, dto.SequenceResponse{SequenceKey: key.String(), LastSequence: last})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", key, last)
			return nil
		},
	}
}

func newAdvanceCommand(ctx *commandContext) *cobra.Command {
	var (
		fromCode           bool
		manufacturerDigits int
	)
	cmd := &cobra.Command{
		Use:   "advance SEQUENCE_KEY LAST | advance --from-code KIND CODE",
		Short: "Raise a counter past numbers issued by another system",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			var (
				key  code.SequenceKey
				last uint64
			)
			if fromCode {
				key, last, err = parseIssuedCode(cmd, a.Engine, args[0], args[1], manufacturerDigits)
				if err != nil {
					return err
				}
			} else {
				key, err = code.ParseSequenceKey(args[0])
				if err != nil {
					return err
				}
				last, err = strconv.ParseUint(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid LAST %q: %w", args[1], err)
				}
			}

			got, err := a.Engine.AdvanceSequence(cmd.Context(), key, last)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, dto.SequenceResponse{SequenceKey: key.String(), LastSequence: got})
			}
			if got > last {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already at %d, unchanged\n", key, got)
				return nil
			}
			if value, err := code.Derive(key, got); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s advanced to %d (%s)\n", key, got, value)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s advanced to %d\n", key, got)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromCode, "from-code", false, "Take the sequence and number from an issued code")
	cmd.Flags().IntVar(&manufacturerDigits, "manufacturer-digits", 0, "UPC manufacturer code length (default: active manufacturer code)")
	return cmd
}

// parseIssuedCode splits an issued code into the sequence it belongs to.
// A UPC is split at the active manufacturer code unless digits is given.
func parseIssuedCode(cmd *cobra.Command, engine *allocation.Service, kindArg, value string, digits int) (code.SequenceKey, uint64, error) {
	kind, err := code.ParseKind(kindArg)
	if err != nil {
		return code.SequenceKey{}, 0, err
	}
	if kind == code.KindUPC && digits == 0 {
		cfg, err := engine.CurrentConfig(cmd.Context(), kind)
		if err != nil {
			return code.SequenceKey{}, 0, err
		}
		digits = len(cfg.ManufacturerCode)
	}
	return code.Parse(value, kind, digits)
}

func newAllocateCommand(ctx *commandContext) *cobra.Command {
	var count uint64
	cmd := &cobra.Command{
		Use:   "allocate KIND",
		Short: "Issue codes",
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

			var codes []allocation.AllocatedCode
			if count == 1 {
				issued, err := a.Engine.Allocate(cmd.Context(), kind)
				if err != nil {
					return err
				}
				codes = []allocation.AllocatedCode{*issued}
			} else {
				codes, err = a.Engine.AllocateBatch(cmd.Context(), kind, count)
				if err != nil {
					return err
				}
			}

			if ctx.jsonOutput {
				return writeJSON(cmd, dto.FromAllocatedBatch(codes))
			}
			for _, c := range codes {
				fmt.Fprintln(cmd.OutOrStdout(), c.Value)
			}
			return nil
		},
	}
	cmd.Flags().Uint64VarP(&count, "count", "n", 1, "Number of consecutive codes")
	return cmd
}

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate KIND CODE",
		Short: "Check that a code is well formed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := code.ParseKind(args[0])
			if err != nil {
				return err
			}
			if err := code.Check(args[1], kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is a valid %s\n", args[1], kind)
			return nil
		},
	}
}
