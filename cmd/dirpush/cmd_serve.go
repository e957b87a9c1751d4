package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/config"
	"github.com/odvcencio/dirpush/pkg/gitstore"
	"github.com/odvcencio/dirpush/pkg/remote"
	"github.com/odvcencio/dirpush/pkg/repo"
)

const serverAuthor = "dirpush <dirpush@localhost>"

var serveKeys = map[string]string{
	"addr":           "server.addr",
	"root":           "server.root",
	"backend":        "server.backend",
	"token":          "server.token",
	"max-blob-bytes": "max_blob_bytes",
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve repositories under a directory over the git data API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd, v, ".", serveKeys)
			if err != nil {
				return err
			}
			handler := newServeHandler(s)
			ln, err := net.Listen("tcp", s.Server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", s.Server.Addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "serving %s repositories from %s on http://%s\n",
				backendName(s.Server.Backend), s.Server.Root, ln.Addr())
			return serve(cmd.Context(), ln, handler)
		},
	}

	f := cmd.Flags()
	f.String("addr", "127.0.0.1:8080", "listen address")
	f.String("root", "repos", "directory holding <owner>/<repo> repositories")
	f.String("backend", config.BackendGot, "repository kind: got or git")
	f.String("token", "", "require this bearer token on every request")
	f.Int64("max-blob-bytes", repo.DefaultMaxBlobBytes, "largest blob accepted")
	return cmd
}

func newServeHandler(s *config.File) http.Handler {
	var reg remote.Registry
	switch backendName(s.Server.Backend) {
	case config.BackendGit:
		g := gitstore.NewRegistry(s.Server.Root)
		g.MaxBlobBytes = s.MaxBlobBytes
		g.Author = serverAuthor
		reg = g
	default:
		g := repo.NewRegistry(s.Server.Root)
		g.MaxBlobBytes = s.MaxBlobBytes
		g.Author = serverAuthor
		reg = g
	}
	if s.Server.Token == "" {
		klog.Warning("serving without authentication")
	}
	return remote.NewHandler(reg, remote.HandlerOptions{Token: s.Server.Token})
}

// serve runs until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
