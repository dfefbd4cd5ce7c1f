package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/triage-ai/reftriage/internal/engine"
	"github.com/triage-ai/reftriage/internal/rules"
	"github.com/triage-ai/reftriage/internal/server"
	"github.com/triage-ai/reftriage/internal/service"
)

func validateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the rule file and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			table, err := rules.LoadFile(opts.rulesPath)
			if err != nil {
				var le *engine.LoadError
				if errors.As(err, &le) {
					for _, p := range le.Problems {
						fmt.Fprintf(out, "problem: %s\n", p)
					}
					return fmt.Errorf("%d problem(s) in rule file", len(le.Problems))
				}
				return err
			}

			s := table.Summary()
			fmt.Fprintf(out, "ok: version %s\n", s.Version)
			fmt.Fprintf(out, "  rules:     %d (keyword %d, decision_node %d, error_pattern %d)\n",
				s.Rules, s.ByType["keyword"], s.ByType["decision_node"], s.ByType["error_pattern"])
			fmt.Fprintf(out, "  roots:     %d\n", s.Roots)
			fmt.Fprintf(out, "  patterns:  %d\n", s.Patterns)
			fmt.Fprintf(out, "  contracts: %d\n", s.Contracts)
			fmt.Fprintf(out, "  fallback:  %s\n", joinRefs(s.Fallback))
			return nil
		},
	}
}

func resolveCmd(opts *options) *cobra.Command {
	var (
		settings []string
		asJSON   bool
		endpoint string
		apiKey   string
	)
	cmd := &cobra.Command{
		Use:   "resolve [query]",
		Short: "Resolve a query and print the result",
		Long: `Resolve a query with the local engine, or against a running server's gRPC
endpoint when --server is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if endpoint != "" {
				return resolveRemote(cmd, endpoint, apiKey, queryArg(args), settings)
			}
			eng, parsed, err := prepare(opts, settings)
			if err != nil {
				return err
			}
			result := eng.Resolve(eng.Extract(queryArg(args), parsed))
			if asJSON {
				return writeResultJSON(cmd.OutOrStdout(), result, eng.Table().Version())
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&settings, "setting", "s", nil, "Project setting as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().StringVar(&endpoint, "server", "", "gRPC endpoint of a running server (output is always JSON)")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("REFTRIAGE_API_KEY"), "API key for --server")
	return cmd
}

func resolveRemote(cmd *cobra.Command, endpoint, apiKey, query string, raw []string) error {
	settings, err := parseSettings(raw)
	if err != nil {
		return err
	}
	if apiKey == "" {
		return errors.New("--api-key or REFTRIAGE_API_KEY is required with --server")
	}
	client, err := server.Dial(endpoint, apiKey)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	resp, err := client.Resolve(ctx, query, settings, false)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func explainCmd(opts *options) *cobra.Command {
	var settings []string
	cmd := &cobra.Command{
		Use:   "explain [query]",
		Short: "Print extracted signals and ranked candidates for a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, parsed, err := prepare(opts, settings)
			if err != nil {
				return err
			}
			tr := eng.Explain(eng.Extract(queryArg(args), parsed), nil)
			printTrace(cmd.OutOrStdout(), tr)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&settings, "setting", "s", nil, "Project setting as key=value (repeatable)")
	return cmd
}

func prepare(opts *options, raw []string) (*engine.Engine, map[string]any, error) {
	settings, err := parseSettings(raw)
	if err != nil {
		return nil, nil, err
	}
	if err := service.ValidateSettings(settings); err != nil {
		return nil, nil, err
	}
	eng, err := opts.engine()
	if err != nil {
		return nil, nil, err
	}
	return eng, settings, nil
}

func queryArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// parseSettings turns key=value pairs into a settings map. "true" and
// "false" become booleans and numeric values keep their literal form.
func parseSettings(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q: want key=value", pair)
		}
		switch {
		case value == "true" || value == "false":
			out[key] = value == "true"
		case isNumber(value):
			out[key] = json.Number(value)
		default:
			out[key] = value
		}
	}
	return out, nil
}

// isNumber reports whether s is a JSON number literal.
func isNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

func printResult(out io.Writer, r engine.ResolutionResult) {
	fmt.Fprintf(out, "status:     %s\n", r.ContractStatus)
	fmt.Fprintf(out, "category:   %s\n", r.Category)
	fmt.Fprintf(out, "confidence: %s\n", r.Confidence)
	fmt.Fprintf(out, "ambiguous:  %t\n", r.Ambiguous)
	if r.ClarifyingQuestion != "" {
		fmt.Fprintf(out, "question:   %s\n", r.ClarifyingQuestion)
	}
	if len(r.MissingSignals) > 0 {
		fmt.Fprintf(out, "missing:    %s\n", strings.Join(r.MissingSignals, ", "))
	}
	if len(r.Documents) == 0 {
		return
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tDOCUMENT\tRULE\tCLARIFY")
	for _, d := range r.Documents {
		fmt.Fprintf(tw, "%.2f\t%s\t%s\t%t\n", d.Score, d.Document, d.SourceRule, d.NeedsClarification)
	}
	_ = tw.Flush()
}

type jsonDocument struct {
	ID                 string  `json:"id"`
	Category           string  `json:"category"`
	Score              float64 `json:"score"`
	SourceRule         string  `json:"source_rule,omitempty"`
	NeedsClarification bool    `json:"needs_clarification"`
}

type jsonResult struct {
	Documents          []jsonDocument `json:"documents"`
	ContractStatus     string         `json:"contract_status"`
	Category           string         `json:"category"`
	ClarifyingQuestion string         `json:"clarifying_question,omitempty"`
	MissingSignals     []string       `json:"missing_signals"`
	Confidence         string         `json:"confidence"`
	Ambiguous          bool           `json:"ambiguous"`
	RulesVersion       string         `json:"rules_version"`
}

func writeResultJSON(out io.Writer, r engine.ResolutionResult, version string) error {
	res := jsonResult{
		Documents:          make([]jsonDocument, len(r.Documents)),
		ContractStatus:     r.ContractStatus.String(),
		Category:           r.Category,
		ClarifyingQuestion: r.ClarifyingQuestion,
		MissingSignals:     r.MissingSignals,
		Confidence:         r.Confidence.String(),
		Ambiguous:          r.Ambiguous,
		RulesVersion:       version,
	}
	if res.MissingSignals == nil {
		res.MissingSignals = []string{}
	}
	for i, d := range r.Documents {
		res.Documents[i] = jsonDocument{
			ID:                 d.Document.ID,
			Category:           d.Document.Category,
			Score:              d.Score,
			SourceRule:         d.SourceRule,
			NeedsClarification: d.NeedsClarification,
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func printTrace(out io.Writer, tr engine.Trace) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "signals (%d)\n", len(tr.Signals))
	fmt.Fprintln(tw, "KIND\tVALUE\tWEIGHT")
	for _, s := range tr.Signals {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\n", s.Kind, s.Value, s.Weight)
	}

	fmt.Fprintf(tw, "\ncandidates (%d)\n", len(tr.Candidates))
	fmt.Fprintln(tw, "SCORE\tDOCUMENT\tRULE\tTYPE\tTIER")
	for _, c := range tr.Candidates {
		fmt.Fprintf(tw, "%.2f\t%s\t%s\t%s\t%d\n", c.Score, c.Document, c.SourceRule, c.RuleType, c.PriorityTier)
	}

	fmt.Fprintf(tw, "\nranking (fallback=%t ambiguous=%t)\n", tr.Ranking.Fallback, tr.Ranking.Ambiguous)
	fmt.Fprintln(tw, "#\tSCORE\tDOCUMENT\tRULE")
	for i, d := range tr.Ranking.Documents {
		fmt.Fprintf(tw, "%d\t%.2f\t%s\t%s\n", i+1, d.Score, d.Document, d.SourceRule)
	}

	fmt.Fprintf(tw, "\ncontract (%s): %s\n", orNone(tr.Category), tr.Enforcement.Status)
	for _, m := range tr.Enforcement.Missing {
		fmt.Fprintf(tw, "  missing %s\n", m)
	}
	_ = tw.Flush()
}

func joinRefs(refs []engine.DocumentRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return orNone(strings.Join(parts, ", "))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
