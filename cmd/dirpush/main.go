// Command dirpush publishes a local directory as one new commit on a remote
// branch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/publish"
)

const version = "0.1.0-dev"

// Exit codes.
const (
	exitError    = 1
	exitConflict = 3 // the branch moved during the sync; rerunning may succeed
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	klog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dirpush:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if publish.IsRetryable(err) {
		return exitConflict
	}
	return exitError
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "dirpush",
		Short:         "Publish a directory as a commit on a remote branch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default: <dir>/"+configFileName()+")")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newPushCmd(v))
	root.AddCommand(newLogCmd(v))
	root.AddCommand(newServeCmd(v))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dirpush %s\n", version)
		},
	}
}
