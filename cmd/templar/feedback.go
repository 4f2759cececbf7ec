// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	templarerr "github.com/templar-dev/templar/pkg/errors"
)

func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback <template-id>",
		Short: "Record whether a retrieved template resolved a ticket",
		Long:  "Feed one usage outcome back into the template's success rate, which the weighted ranking mode consumes.",
		Args:  cobra.ExactArgs(1),
		RunE:  runFeedback,
	}

	cmd.Flags().Bool("resolved", false, "the template resolved the ticket")
	cmd.Flags().Bool("unresolved", false, "the template did not resolve the ticket")

	return cmd
}

func runFeedback(cmd *cobra.Command, args []string) error {
	resolved, _ := cmd.Flags().GetBool("resolved")
	unresolved, _ := cmd.Flags().GetBool("unresolved")
	if resolved == unresolved {
		return templarerr.New(templarerr.CodeCLIInputInvalid, "pass exactly one of --resolved or --unresolved")
	}

	app, err := wireStoreOnly(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Store.RecordUsage(cmd.Context(), args[0], resolved); err != nil {
		return err
	}

	rec, err := app.Store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d usages, success rate %.3f\n",
		rec.TemplateID, rec.UsageCount, rec.SuccessRate)
	return nil
}
