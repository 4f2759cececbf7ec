// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	templarerr "github.com/templar-dev/templar/pkg/errors"
	"github.com/templar-dev/templar/pkg/health"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store health and the current embedding version",
		RunE:  runStatus,
	}

	cmd.Flags().Bool("json", false, "print the snapshot as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	app, err := wireStoreOnly(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	snapshot := health.Snapshot{
		Backend:   app.Config.Storage.Backend,
		Degraded:  app.Degraded,
		CheckedAt: time.Now().UTC(),
	}

	if cur, err := app.Store.CurrentVersion(ctx); err == nil {
		snapshot.CurrentVersion = &cur.ID
		snapshot.ModelName = cur.ModelName
		snapshot.Dimension = cur.Dimension
	} else if !templarerr.IsNotFound(err) {
		return err
	}

	count, err := app.Store.CountRecords(ctx)
	if err != nil {
		return err
	}
	snapshot.Records = count

	report, err := app.Store.ValidateIntegrity(ctx)
	if err != nil {
		return err
	}
	snapshot.IntegrityOK = report.OK()
	for _, issue := range report.Issues {
		snapshot.IntegrityIssues = append(snapshot.IntegrityIssues, issue.String())
	}

	// Ready means: a current version exists, the store holds records, and
	// nothing failed the integrity scan. A degraded (in-memory) store is
	// never ready.
	snapshot.Ready = snapshot.CurrentVersion != nil && snapshot.Records > 0 &&
		snapshot.IntegrityOK && !snapshot.Degraded

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	}

	fmt.Fprintf(out, "backend:   %s", snapshot.Backend)
	if snapshot.Degraded {
		fmt.Fprint(out, " (degraded: in-memory fallback)")
	}
	fmt.Fprintln(out)
	if snapshot.CurrentVersion != nil {
		fmt.Fprintf(out, "version:   %d (%s, %d dims)\n", *snapshot.CurrentVersion, snapshot.ModelName, snapshot.Dimension)
	} else {
		fmt.Fprintln(out, "version:   none promoted yet")
	}
	fmt.Fprintf(out, "records:   %d\n", snapshot.Records)
	fmt.Fprintf(out, "integrity: ok=%v\n", snapshot.IntegrityOK)
	for _, issue := range snapshot.IntegrityIssues {
		fmt.Fprintf(out, "  issue: %s\n", issue)
	}
	fmt.Fprintf(out, "ready:     %v\n", snapshot.Ready)
	return nil
}
