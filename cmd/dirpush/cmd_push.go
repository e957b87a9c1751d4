package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/config"
	"github.com/odvcencio/dirpush/pkg/publish"
)

var pushKeys = map[string]string{
	"sign":        "signing.enabled",
	"signing-key": "signing.key",
	"quiet":       "",
	"save-config": "",
}

func newPushCmd(v *viper.Viper) *cobra.Command {
	var (
		quiet      bool
		saveConfig bool
	)

	cmd := &cobra.Command{
		Use:   "push [dir]",
		Short: "Publish a directory as one new commit on a remote branch",
		Long: `Publish every file under dir (default: the configured root, or the
current directory) as a single commit on top of the branch's current tip.
Files missing locally stay in the remote tree unless --prune is given.

The remote is an http(s) URL of a git data API (owner/repo path) or a local
repository directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			s, err := loadSettings(cmd, v, dir, pushKeys)
			if err != nil {
				return err
			}
			root := dir
			if len(args) == 0 && s.Root != "" {
				root = s.Root
			}
			root, err = filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolve root: %w", err)
			}

			cfg, err := publishConfig(s, root)
			if err != nil {
				return err
			}
			if s.Signing.Enabled {
				signer, keyPath, err := newSSHCommitSigner(s.Signing.Key)
				if err != nil {
					return err
				}
				cfg.Signer = signer
				klog.V(1).Infof("signing commits with %s", keyPath)
			}

			ctx := cmd.Context()
			t, err := openTarget(ctx, s, s.Create)
			if err != nil {
				return err
			}
			cfg.Store = t.store
			if s.Create {
				if _, err := publish.EnsureBranch(ctx, t.store, cfg.Branch, cfg.Author); err != nil {
					return err
				}
			}

			var progress *uploadProgress
			if !quiet {
				progress = newUploadProgress(cmd.ErrOrStderr())
				progress.attach(&cfg)
			}

			var res *publish.Result
			for attempt := 0; ; attempt++ {
				res, err = publish.Sync(ctx, cfg)
				if err == nil || !publish.IsRetryable(err) || attempt >= s.Retries {
					break
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s moved during sync, retrying (%d/%d)\n", cfg.Branch, attempt+1, s.Retries)
			}
			if progress != nil {
				progress.wait()
			}
			if err != nil {
				return err
			}

			if saveConfig {
				if err := saveSettings(root, s); err != nil {
					return err
				}
			}
			if !quiet {
				printResult(cmd, t.desc, res)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringP("remote", "r", "", "remote URL or local repository directory")
	f.String("backend", config.BackendGot, "repository kind for a local remote directory (got or git)")
	f.StringP("branch", "b", publish.DefaultBranch, "branch to publish to")
	f.StringP("message", "m", publish.DefaultMessage, "commit message")
	f.String("author", "", "commit author, \"Name <email>\"")
	f.String("token", "", "bearer token for the remote API")
	f.IntP("concurrency", "j", publish.DefaultConcurrency, "parallel uploads")
	f.String("encoding", string(publish.EncodingAuto), "blob encoding: auto, text or binary")
	f.Bool("prune", false, "remove remote files that are missing locally")
	f.Bool("create", false, "create the repository and branch when missing")
	f.Int("retries", 0, "rerun the whole sync this many times when the branch moves concurrently")
	f.Int64("max-blob-bytes", publish.DefaultMaxBlobBytes, "largest file to publish")
	f.StringSlice("exclude", nil, "extra ignore pattern (repeatable, .gitignore syntax)")
	f.Bool("sign", false, "sign the commit with an SSH key")
	f.String("signing-key", "", "SSH private key for --sign (default ~/.ssh/id_ed25519, id_ecdsa, id_rsa)")
	f.BoolVarP(&quiet, "quiet", "q", false, "print nothing on success")
	f.BoolVar(&saveConfig, "save-config", false, "write the remote and branch to "+config.FileName+" in the root")
	return cmd
}

func publishConfig(s *config.File, root string) (publish.Config, error) {
	enc, err := publish.ParseEncodingMode(s.Encoding)
	if err != nil {
		return publish.Config{}, err
	}
	return publish.Config{
		Root:         root,
		Branch:       s.Branch,
		Message:      s.Message,
		Author:       s.Author,
		Concurrency:  s.Concurrency,
		Encoding:     enc,
		MaxBlobBytes: s.MaxBlobBytes,
		Prune:        s.Prune,
		// The sync settings themselves are not published unless an
		// exclude pattern negates this one.
		Exclude: append([]string{"/" + config.FileName}, s.Exclude...),
	}, nil
}

// saveSettings records where root publishes to, keeping any other settings
// already in its config file.
func saveSettings(root string, s *config.File) error {
	existing, path, err := config.Find(root)
	if err != nil {
		return err
	}
	if path == "" {
		path = filepath.Join(root, config.FileName)
	}
	existing.Remote = s.Remote
	existing.Branch = s.Branch
	if s.Backend != "" && !looksLikeRemoteURL(s.Remote) {
		existing.Backend = s.Backend
	}
	return config.Write(path, existing)
}

func printResult(cmd *cobra.Command, desc string, res *publish.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "published %s to %s %s (parent %s, %d files", res.Commit.Short(), desc, res.Branch, res.Parent.Commit.Short(), len(res.Files))
	if len(res.Deleted) > 0 {
		fmt.Fprintf(out, ", %d deleted", len(res.Deleted))
	}
	fmt.Fprintln(out, ")")
	if len(res.Deleted) > 0 {
		klog.V(1).Infof("pruned: %s", strings.Join(res.Deleted, ", "))
	}
}
