// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/templar-dev/templar/internal/retrieval"
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve the best-matching templates for a query",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().String("category", "", "ticket category (required)")
	cmd.Flags().String("subcategory", "", "ticket subcategory (required)")
	cmd.Flags().Int("top-k", 0, "number of matches to return (default from config)")
	cmd.Flags().Bool("weighted", false, "blend template success rates into the ranking")
	cmd.Flags().Float64("classification-confidence", 0, "upstream classifier confidence, echoed in output only")
	cmd.Flags().Bool("json", false, "print results as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")
	subcategory, _ := cmd.Flags().GetString("subcategory")
	if category == "" || subcategory == "" {
		return templarerr.New(templarerr.CodeCLIInputInvalid, "--category and --subcategory are required")
	}

	app, err := wireApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Degraded {
		app.Logger.Warn("serving from the in-memory fallback store; results reset on restart")
	}

	topK, _ := cmd.Flags().GetInt("top-k")
	if topK == 0 {
		topK = app.Config.Retrieval.TopK
	}
	weighted, _ := cmd.Flags().GetBool("weighted")
	if !cmd.Flags().Changed("weighted") {
		weighted = app.Config.Retrieval.WeightBySuccessRate
	}

	classConf, _ := cmd.Flags().GetFloat64("classification-confidence")

	result, err := app.Engine().Retrieve(cmd.Context(), retrieval.Request{
		Query:                    args[0],
		Category:                 category,
		Subcategory:              subcategory,
		TopK:                     topK,
		WeightBySuccessRate:      weighted,
		ClassificationConfidence: classConf,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	fmt.Fprintf(out, "%d candidates scored in %s\n", result.TotalCandidates, result.ProcessingTime.Round(time.Microsecond))
	for _, m := range result.Matches {
		fmt.Fprintf(out, "%2d. %-20s sim=%.3f score=%.3f %-6s %s\n",
			m.Rank, m.TemplateID, m.Similarity, m.Score, m.Confidence, firstLine(m.Question))
	}
	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
