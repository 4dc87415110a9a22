package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/freewebtopdf/redirect-resolver/internal/codec"
	"github.com/freewebtopdf/redirect-resolver/internal/domain"
	"github.com/freewebtopdf/redirect-resolver/internal/engine"
	"github.com/freewebtopdf/redirect-resolver/internal/storage"
)

// errFindings makes the process exit non-zero without printing a usage message
var errFindings = errors.New("audit found problems")

// options are the flags shared by every subcommand
type options struct {
	file           string
	format         string
	maxChainLength int
	defaultType    string
	noRegex        bool
	verbose        bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "redirect-audit",
		Short:         "Inspect redirect rule files",
		Long:          `Loads a redirect rule file (csv, json or yaml) and reports chains, loops and unreachable rules.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.file, "file", "f", "", "rule file to load (required)")
	flags.StringVar(&opts.format, "format", "", "rule file format: csv, json or yaml (default: from the file extension)")
	flags.IntVar(&opts.maxChainLength, "max-chain-length", engine.DefaultConfig().MaxChainLength, "maximum hops followed per resolution")
	flags.StringVar(&opts.defaultType, "default-type", string(domain.RedirectPermanent), "redirect type for rows that carry none")
	flags.BoolVar(&opts.noRegex, "no-regex", false, "treat regex rules as never matching")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	_ = root.MarkPersistentFlagRequired("file")

	root.AddCommand(
		newResolveCmd(opts),
		newChainsCmd(opts),
		newLoopsCmd(opts),
		newAuditCmd(opts),
		newConvertCmd(opts),
	)

	root.SetErr(os.Stderr)
	return root
}

func newResolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path>...",
		Short: "Resolve each path and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEngine(opts)
			if err != nil {
				return err
			}

			results := make([]domain.ResolutionResult, 0, len(args))
			for _, path := range args {
				results = append(results, e.Resolve(path))
			}
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
}

func newChainsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List redirect chains of two or more hops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEngine(opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), e.DetectChains())
		},
	}
}

func newLoopsCmd(opts *options) *cobra.Command {
	var failOnLoop bool

	cmd := &cobra.Command{
		Use:   "loops",
		Short: "List redirect loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEngine(opts)
			if err != nil {
				return err
			}

			loops := e.DetectLoops()
			if err := writeJSON(cmd.OutOrStdout(), loops); err != nil {
				return err
			}
			if failOnLoop && len(loops) > 0 {
				return errFindings
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failOnLoop, "fail", false, "exit non-zero when a loop exists")
	return cmd
}

func newAuditCmd(opts *options) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report chains, loops, shadowed rules and broken patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEngine(opts)
			if err != nil {
				return err
			}

			report, err := e.Audit(cmd.Context())
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if strict && !report.Clean() {
				return errFindings
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero unless the audit is clean")
	return cmd
}

func newConvertCmd(opts *options) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Re-encode the rule file in another format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := codec.ParseFormat(to)
			if err != nil {
				return err
			}

			e, err := loadEngine(opts)
			if err != nil {
				return err
			}

			_, err = io.WriteString(cmd.OutOrStdout(), e.Export(target))
			return err
		},
	}

	cmd.Flags().StringVar(&to, "to", string(codec.FormatJSON), "output format: csv, json or yaml")
	return cmd
}

// loadEngine reads the rule file into an in-memory engine. Any invalid row
// fails the whole load.
func loadEngine(opts *options) (*engine.Engine, error) {
	data, err := os.ReadFile(opts.file)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	format, err := codec.ParseFormat(formatName(opts))
	if err != nil {
		return nil, err
	}

	cfg := engine.DefaultConfig()
	cfg.MaxChainLength = opts.maxChainLength
	cfg.EnableRegex = !opts.noRegex
	cfg.DefaultType = domain.RedirectType(opts.defaultType)
	if !cfg.DefaultType.IsValid() {
		return nil, fmt.Errorf("invalid default type %q", opts.defaultType)
	}

	e := engine.New(storage.NewStore(), cfg)

	text := string(data)
	if _, err := e.ValidateImport(format, text); err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) && appErr.Cause != nil {
			return nil, fmt.Errorf("%s: %s: %w", opts.file, appErr.Message, appErr.Cause)
		}
		return nil, fmt.Errorf("%s: %w", opts.file, err)
	}
	e.Import(format, text)

	return e, nil
}

// formatName is the --format flag, falling back to the file extension
func formatName(opts *options) string {
	if opts.format != "" {
		return opts.format
	}
	return strings.TrimPrefix(filepath.Ext(opts.file), ".")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
