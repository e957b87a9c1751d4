package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeConfig(t, `
remote = "https://git.example.com/acme/site"
branch = "gh-pages"
message = "Deploy"
concurrency = 4
encoding = "binary"
prune = true
exclude = ["*.map", "drafts/"]

[signing]
enabled = true
key = "~/.ssh/deploy"

[server]
addr = ":8080"
backend = "git"
`)
	f, path, err := Find(dir)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if path != filepath.Join(dir, FileName) {
		t.Fatalf("path = %q", path)
	}
	want := &File{
		Remote:      "https://git.example.com/acme/site",
		Branch:      "gh-pages",
		Message:     "Deploy",
		Concurrency: 4,
		Encoding:    "binary",
		Prune:       true,
		Exclude:     []string{"*.map", "drafts/"},
		Signing:     Signing{Enabled: true, Key: "~/.ssh/deploy"},
		Server:      Server{Addr: ":8080", Backend: BackendGit},
	}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Fatalf("File mismatch (-want +got):\n%s", diff)
	}
}

func TestFind_Missing(t *testing.T) {
	f, path, err := Find(t.TempDir())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if path != "" {
		t.Fatalf("path = %q, want empty", path)
	}
	if diff := cmp.Diff(&File{}, f); diff != "" {
		t.Fatalf("File mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "unknown key", body: "remote = \"x\"\nbranches = \"main\"\n", wantErr: "unknown keys: branches"},
		{name: "bad branch", body: "branch = \"a..b\"\n", wantErr: "invalid branch"},
		{name: "bad encoding", body: "encoding = \"latin-1\"\n", wantErr: "encoding"},
		{name: "negative concurrency", body: "concurrency = -1\n", wantErr: "concurrency"},
		{name: "bad backend", body: "backend = \"hg\"\n", wantErr: "backend \"hg\""},
		{name: "bad server backend", body: "[server]\nbackend = \"svn\"\n", wantErr: "server backend"},
		{name: "syntax", body: "remote = \n", wantErr: "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.body)
			_, _, err := Find(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	in := &File{Remote: "https://example.com/acme/site", Branch: "main", Create: true}
	if err := Write(path, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "concurrency") {
		t.Fatalf("zero values were written:\n%s", data)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
