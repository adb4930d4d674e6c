package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yourorg/promptcap/internal/config"
	"github.com/yourorg/promptcap/internal/report"
	"github.com/yourorg/promptcap/internal/store"
)

const usage = `Usage: promptcap-export [OPTIONS]

Options:
  -s, --summary    Show summary only (don't export)
  -o, --output     Specify output filename
  -h, --help       Show this help
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type mode int

const (
	modeExport mode = iota
	modeSummary
	modeHelp
)

// parseArgs decides the action from the first argument only. Anything it
// does not recognize falls back to a default export.
func parseArgs(args []string) (mode, string) {
	if len(args) == 0 {
		return modeExport, ""
	}
	switch args[0] {
	case "-h", "--help":
		return modeHelp, ""
	case "-s", "--summary":
		return modeSummary, ""
	case "-o", "--output":
		if len(args) > 1 {
			return modeExport, args[1]
		}
	}
	return modeExport, ""
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "promptcap-export",
		Short:              "Render the captured request as a text report",
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, name := parseArgs(args)
			if m == modeHelp {
				_, err := io.WriteString(cmd.OutOrStdout(), usage)
				return err
			}

			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			r := report.New(store.NewFileStore(cfg.Output), cfg.Output.Dir, cmd.OutOrStdout())

			if m == modeSummary {
				return r.Summarize()
			}
			_, err = r.Export(name)
			return err
		},
	}
}
