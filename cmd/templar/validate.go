// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/templar-dev/templar/internal/validate"
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <validation-set.yaml>",
		Short: "Score retrieval quality against a labelled query set",
		Long:  "Run every labelled query through retrieval and report top-1/3/5 accuracy. The run fails unless top-3 accuracy reaches the deployment gate.",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().Bool("json", false, "print the summary as JSON")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	records, err := validate.LoadRecords(args[0])
	if err != nil {
		return err
	}

	app, err := wireApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	harness := validate.New(app.Engine(), app.Logger,
		validate.WithGate(app.Config.Validation.Top3Gate))

	summary, err := harness.Run(cmd.Context(), records)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%d queries: top-1 %.1f%%, top-3 %.1f%%, top-5 %.1f%%\n",
			summary.Queries, summary.Top1Accuracy, summary.Top3Accuracy, summary.Top5Accuracy)
		fmt.Fprintf(out, "latency mean %s, p95 %s\n",
			summary.MeanLatency.Round(time.Microsecond), summary.P95Latency.Round(time.Microsecond))
		fmt.Fprintf(out, "mean similarity: correct %.3f, wrong %.3f\n",
			summary.MeanSimCorrect, summary.MeanSimWrong)
		for _, miss := range summary.Misses {
			fmt.Fprintf(out, "  miss: %q expected %s got %s (sim %.3f)\n",
				miss.Query, miss.Expected, miss.Got, miss.Similarity)
		}
	}

	if !summary.Passed {
		return templarerr.Errorf(templarerr.CodeValidationRunFailure,
			"top-3 accuracy %.1f%% is below the %.0f%% gate", summary.Top3Accuracy, harness.Gate())
	}
	fmt.Fprintln(out, "PASS")
	return nil
}
