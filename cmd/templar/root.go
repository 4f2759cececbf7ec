// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root templar command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "templar",
		Short:         "Templar — versioned template embedding store and retrieval engine",
		Long:          "Templar embeds a support-template catalog, keeps the embeddings versioned, and retrieves the best templates for incoming queries by semantic similarity.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	root.AddCommand(
		newIndexCmd(),
		newSearchCmd(),
		newFeedbackCmd(),
		newValidateCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// configPath resolves the config file: the --config flag wins, then
// templar.yaml is discovered from standard locations. An empty return
// means defaults and environment variables only.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}

	candidates := []string{"templar.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "templar", "templar.yaml"))
	}
	candidates = append(candidates, "/etc/templar/templar.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
