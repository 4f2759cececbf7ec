// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/templar-dev/templar/internal/migrate"
	"github.com/templar-dev/templar/internal/template"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the template catalog into the store",
		Long:  "Run an incremental migration: embed new and changed templates, drop removed ones, and promote the embedding version when it is usable.",
		RunE:  runIndex,
	}

	cmd.Flags().String("catalog", "", "path to the template catalog (overrides config)")
	cmd.Flags().Bool("json", false, "print the run report as JSON")

	return cmd
}

func runIndex(cmd *cobra.Command, _ []string) error {
	app, err := wireApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	catalogPath, _ := cmd.Flags().GetString("catalog")
	if catalogPath == "" {
		catalogPath = app.Config.Migration.CatalogPath
	}

	templates, err := template.LoadCatalog(catalogPath)
	if err != nil {
		return err
	}

	pipeline := migrate.New(app.Store, app.Embedder, app.Logger,
		migrate.WithBatchSize(app.Config.Migration.BatchSize))

	report, err := pipeline.Run(cmd.Context(), templates)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "run %s: %d templates (%d new, %d changed, %d unchanged, %d deleted)\n",
		report.RunID, report.Total, report.New, report.Changed, report.Unchanged, report.Deleted)
	fmt.Fprintf(out, "embedded %d, failed %d, readiness %s, promoted %v (%s)\n",
		report.Embedded, len(report.Failed), report.Readiness, report.Promoted, report.Duration.Round(time.Millisecond))
	for _, f := range report.Failed {
		fmt.Fprintf(out, "  failed: %s: %s\n", f.TemplateID, f.Reason)
	}
	return nil
}
