// Command costbasis runs calculations, request validation and export
// normalization over stdin/stdout JSON.
//
//	costbasis calc < request.json
//	costbasis validate [--max-events N] < request.json
//	costbasis normalize --format cryptact|bitflyer|bitflyer-csv [--product BTC_JPY] < export
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/engine"
	"github.com/eupholio/costbasis/internal/normalize"
	"github.com/eupholio/costbasis/internal/validation"
)

const defaultMaxEvents = 100000

func main() {
	slog.SetDefault(config.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL")))
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// exitError ends a command with the given code after its output is written.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// run executes one subcommand and returns the process exit code: 0 on
// success, 1 on a hard error or failed validation, 2 on a usage error.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// started is set once a subcommand body runs; errors before that are
	// usage errors raised by cobra.
	started := false
	root := rootCmd(&started)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	var exit exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return int(exit)
	case !started:
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		fmt.Fprint(stderr, root.UsageString())
		return 2
	default:
		slog.Error("command failed", "err", err)
		return 1
	}
}

func rootCmd(started *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "costbasis",
		Short:         "costbasis computes crypto cost basis and realized P&L in JPY",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("a command is required")
		},
	}
	cmd.AddCommand(
		calcCmd(started),
		validateCmd(started),
		normalizeCmd(started),
	)
	return cmd
}

func calcCmd(started *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "calc",
		Short: "read a calculation request on stdin, write the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			*started = true
			var req engine.Request
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&req); err != nil {
				return writeFailure(cmd.OutOrStdout(), fmt.Errorf("invalid request: %w", err))
			}
			report, err := req.Run()
			if err != nil {
				return writeFailure(cmd.OutOrStdout(), err)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func validateCmd(started *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "read a calculation request on stdin, write {ok, errors, warnings}",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			*started = true
			maxEvents, err := cmd.Flags().GetInt("max-events")
			if err != nil {
				return err
			}

			var req engine.Request
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&req); err != nil {
				return writeFailure(cmd.OutOrStdout(), fmt.Errorf("invalid request: %w", err))
			}
			res := validation.Validate(req, maxEvents)
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK {
				return exitError(1)
			}
			return nil
		},
	}
	cmd.Flags().Int("max-events", defaultMaxEvents, "maximum number of events (0 disables the limit)")
	return cmd
}

func normalizeCmd(started *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "read an exchange export on stdin, write {events, diagnostics}",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			if format == "" {
				return errors.New(`required flag "format" not set`)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			*started = true
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			product, err := cmd.Flags().GetString("product")
			if err != nil {
				return err
			}

			res, err := normalize.Normalize(normalize.Format(format), cmd.InOrStdin(), normalize.Options{Product: product})
			if err != nil {
				return writeFailure(cmd.OutOrStdout(), err)
			}
			slog.Debug("export normalized", "format", format, "events", len(res.Events), "diagnostics", len(res.Diagnostics))
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("format", "", "export format: cryptact, bitflyer or bitflyer-csv")
	cmd.Flags().String("product", normalize.DefaultProduct, "bitFlyer product code")
	return cmd
}

// writeFailure prints {"error": ...} and ends the command with exit code 1.
func writeFailure(w io.Writer, err error) error {
	if werr := writeJSON(w, map[string]string{"error": err.Error()}); werr != nil {
		return werr
	}
	return exitError(1)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
