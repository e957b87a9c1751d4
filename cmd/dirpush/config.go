package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/config"
)

const envPrefix = "DIRPUSH"

func configFileName() string { return config.FileName }

// loadSettings layers dirpush.toml under DIRPUSH_* environment variables
// under the command's flags and returns the merged result. keys maps flag
// names to config keys; unmapped flags use their own name with dashes
// turned into underscores, and flags mapped to "" stay unbound.
func loadSettings(cmd *cobra.Command, v *viper.Viper, dir string, keys map[string]string) (*config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		f   *config.File
		err error
	)
	if path != "" {
		f, err = config.Load(path)
	} else {
		f, path, err = config.Find(dir)
	}
	if err != nil {
		return nil, err
	}
	if path != "" {
		klog.V(1).Infof("using config %s", path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setFileDefaults(v, f)

	var bindErr error
	cmd.Flags().VisitAll(func(fl *pflag.Flag) {
		if fl.Name == "config" || bindErr != nil {
			return
		}
		key, ok := keys[fl.Name]
		if !ok {
			key = strings.ReplaceAll(fl.Name, "-", "_")
		} else if key == "" {
			return
		}
		bindErr = v.BindPFlag(key, fl)
	})
	if bindErr != nil {
		return nil, bindErr
	}

	out := &config.File{
		Remote:       v.GetString("remote"),
		Backend:      v.GetString("backend"),
		Branch:       v.GetString("branch"),
		Root:         v.GetString("root"),
		Message:      v.GetString("message"),
		Author:       v.GetString("author"),
		Token:        v.GetString("token"),
		Concurrency:  v.GetInt("concurrency"),
		Encoding:     v.GetString("encoding"),
		Prune:        v.GetBool("prune"),
		Create:       v.GetBool("create"),
		Retries:      v.GetInt("retries"),
		MaxBlobBytes: v.GetInt64("max_blob_bytes"),
		Exclude:      v.GetStringSlice("exclude"),
		Signing: config.Signing{
			Enabled: v.GetBool("signing.enabled"),
			Key:     v.GetString("signing.key"),
		},
		Server: config.Server{
			Addr:    v.GetString("server.addr"),
			Root:    v.GetString("server.root"),
			Backend: v.GetString("server.backend"),
			Token:   v.GetString("server.token"),
		},
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return out, nil
}

// setFileDefaults installs the file's non-zero values below env and flags.
// Zero values are skipped so that flag defaults still apply.
func setFileDefaults(v *viper.Viper, f *config.File) {
	set := func(key string, val any, zero bool) {
		if !zero {
			v.SetDefault(key, val)
		}
	}
	set("remote", f.Remote, f.Remote == "")
	set("backend", f.Backend, f.Backend == "")
	set("branch", f.Branch, f.Branch == "")
	set("root", f.Root, f.Root == "")
	set("message", f.Message, f.Message == "")
	set("author", f.Author, f.Author == "")
	set("token", f.Token, f.Token == "")
	set("concurrency", f.Concurrency, f.Concurrency == 0)
	set("encoding", f.Encoding, f.Encoding == "")
	set("prune", f.Prune, !f.Prune)
	set("create", f.Create, !f.Create)
	set("retries", f.Retries, f.Retries == 0)
	set("max_blob_bytes", f.MaxBlobBytes, f.MaxBlobBytes == 0)
	set("exclude", f.Exclude, len(f.Exclude) == 0)
	set("signing.enabled", f.Signing.Enabled, !f.Signing.Enabled)
	set("signing.key", f.Signing.Key, f.Signing.Key == "")
	set("server.addr", f.Server.Addr, f.Server.Addr == "")
	set("server.root", f.Server.Root, f.Server.Root == "")
	set("server.backend", f.Server.Backend, f.Server.Backend == "")
	set("server.token", f.Server.Token, f.Server.Token == "")
}
