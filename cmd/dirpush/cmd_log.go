package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/dirpush/pkg/config"
	"github.com/odvcencio/dirpush/pkg/publish"
)

var logKeys = map[string]string{
	"limit":   "",
	"oneline": "",
	"verify":  "",
}

func newLogCmd(v *viper.Viper) *cobra.Command {
	var (
		oneline bool
		limit   int
		verify  bool
	)

	cmd := &cobra.Command{
		Use:   "log [dir]",
		Short: "Show the commit history of the remote branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			s, err := loadSettings(cmd, v, dir, logKeys)
			if err != nil {
				return err
			}
			t, err := openTarget(cmd.Context(), s, false)
			if err != nil {
				return err
			}
			entries, err := publish.History(cmd.Context(), t.store, s.Branch, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, entry := range entries {
				h, c := entry.Hash, entry.Commit
				decoration := ""
				if i == 0 {
					decoration = fmt.Sprintf("(%s)", s.Branch)
				}
				if oneline {
					if decoration != "" {
						fmt.Fprintf(out, "%s %s %s\n", h.Short(), decoration, c.Message)
					} else {
						fmt.Fprintf(out, "%s %s\n", h.Short(), c.Message)
					}
					continue
				}

				if decoration != "" {
					fmt.Fprintf(out, "commit %s %s\n", h, decoration)
				} else {
					fmt.Fprintf(out, "commit %s\n", h)
				}
				if verify {
					if c.Signature == "" {
						fmt.Fprintln(out, "Signature: none")
					} else if pub, err := verifyCommitSignature(c); err != nil {
						fmt.Fprintf(out, "Signature: BAD (%v)\n", err)
					} else {
						fmt.Fprintf(out, "Signature: good %s key %s\n", pub.Type(), ssh.FingerprintSHA256(pub))
					}
				}
				fmt.Fprintf(out, "Author: %s\n", c.Author)
				fmt.Fprintf(out, "Date:   %s\n", time.Unix(c.Timestamp, 0).Format("2006-01-02 15:04:05"))
				fmt.Fprintln(out)
				fmt.Fprintf(out, "    %s\n", c.Message)
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringP("remote", "r", "", "remote URL or local repository directory")
	f.String("backend", config.BackendGot, "repository kind for a local remote directory (got or git)")
	f.StringP("branch", "b", publish.DefaultBranch, "branch to show")
	f.String("token", "", "bearer token for the remote API")
	f.BoolVar(&oneline, "oneline", false, "one line per commit")
	f.IntVarP(&limit, "limit", "n", 0, "show at most this many commits (0 = all)")
	f.BoolVar(&verify, "verify", false, "check SSH commit signatures")
	return cmd
}
