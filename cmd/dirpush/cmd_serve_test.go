package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/odvcencio/dirpush/pkg/config"
	"github.com/odvcencio/dirpush/pkg/gitstore"
)

func TestServe_GitBackend(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	h := newServeHandler(&config.File{
		Server: config.Server{Root: root, Backend: config.BackendGit, Token: "s3cret"},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, h) }()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"index.html": "served\n", "css/site.css": "body{}\n"})
	remoteURL := "http://" + ln.Addr().String() + "/acme/site"
	mustRun(t, "push", dir, "-q", "--remote", remoteURL, "--token", "s3cret", "--create", "-b", "gh-pages")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}

	s, err := gitstore.Open(filepath.Join(root, "acme", "site.git"))
	if err != nil {
		t.Fatalf("gitstore.Open: %v", err)
	}
	if diff := cmp.Diff([]string{"css/site.css", "index.html"}, branchFiles(t, s, "gh-pages")); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
}
