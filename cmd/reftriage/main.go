// Package main provides the reftriage operator CLI. It loads a rule file and
// runs the resolution engine locally, without a server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/triage-ai/reftriage/internal/engine"
	"github.com/triage-ai/reftriage/internal/rules"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	rulesPath string
	floor     float64
	epsilon   float64
	verbose   bool
}

func rootCmd() *cobra.Command {
	opts := &options{}
	defaults := engine.DefaultPrecedenceConfig()

	cmd := &cobra.Command{
		Use:   "reftriage",
		Short: "Resolve developer queries to reference documents",
		Long: `reftriage maps a free-text developer query plus project settings to an
ordered list of reference documents, using a versioned trigger table.

Without --rules the embedded default rule set is used.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.rulesPath, "rules", "", "Rule file (YAML or JSON); empty uses the embedded default")
	cmd.PersistentFlags().Float64Var(&opts.floor, "score-floor", defaults.Floor, "Drop candidates scoring at or below this")
	cmd.PersistentFlags().Float64Var(&opts.epsilon, "ambiguity-epsilon", defaults.AmbiguityEpsilon, "Top two scores within this are ambiguous")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine debug output to stderr")

	cmd.AddCommand(validateCmd(opts), resolveCmd(opts), explainCmd(opts))
	return cmd
}

// engine loads the rule file and builds an engine from the shared flags.
func (o *options) engine() (*engine.Engine, error) {
	table, err := rules.LoadFile(o.rulesPath)
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	if o.verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		if logger, err = cfg.Build(); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	cfg := engine.DefaultPrecedenceConfig()
	cfg.Floor = o.floor
	cfg.AmbiguityEpsilon = o.epsilon
	return engine.NewEngine(table, cfg, logger), nil
}
