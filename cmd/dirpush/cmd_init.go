package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/odvcencio/dirpush/pkg/config"
	"github.com/odvcencio/dirpush/pkg/publish"
)

func newInitCmd() *cobra.Command {
	var (
		backend  string
		branch   string
		author   string
		autoInit bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty repository that can be pushed to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			if err := config.ValidateBackend(backend); err != nil {
				return err
			}

			if _, err := initLocal(abs, backend, branch, author, autoInit); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized empty %s repository in %s (branch %s)\n", backendName(backend), abs, branch)
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", config.BackendGot, "repository kind: got or git")
	cmd.Flags().StringVarP(&branch, "branch", "b", publish.DefaultBranch, "default branch")
	cmd.Flags().StringVar(&author, "author", "", "author of the initial commit")
	cmd.Flags().BoolVar(&autoInit, "auto-init", true, "create the default branch with an empty initial commit")
	return cmd
}
