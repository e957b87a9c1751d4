package remote

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Endpoint identifies a repository on a git data API server.
// BaseURL is normalized to ".../repos/{owner}/{repo}" with no trailing slash.
type Endpoint struct {
	Raw     string
	BaseURL string
	Owner   string
	Repo    string
	user    string
	pass    string
}

// ParseEndpoint parses a remote URL into a canonical endpoint.
//
// Supported inputs include:
// - https://host/repos/owner/repo
// - https://host/owner/repo (expanded to /repos/owner/repo)
// - https://host/api/v3/repos/owner/repo
// - https://host/owner/repo.git
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("remote URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse remote URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("remote URL must include scheme and host")
	}

	segments := splitPathSegments(u.Path)
	if len(segments) < 2 {
		return Endpoint{}, fmt.Errorf("remote URL must include owner and repository")
	}

	reposIdx := -1
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == "repos" {
			reposIdx = i
		}
	}

	var owner, repo string
	var baseSegments []string
	if reposIdx >= 0 {
		owner = segments[reposIdx+1]
		repo = strings.TrimSuffix(segments[reposIdx+2], ".git")
		baseSegments = append(baseSegments, segments[:reposIdx+1]...)
	} else {
		owner = segments[len(segments)-2]
		repo = strings.TrimSuffix(segments[len(segments)-1], ".git")
		baseSegments = append(baseSegments, segments[:len(segments)-2]...)
		baseSegments = append(baseSegments, "repos")
	}
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return Endpoint{}, fmt.Errorf("remote URL must include non-empty owner and repository")
	}
	baseSegments = append(baseSegments, owner, repo)

	endpointURL := *u
	endpointURL.Path = "/" + strings.Join(baseSegments, "/")
	endpointURL.RawPath = ""
	endpointURL.RawQuery = ""
	endpointURL.Fragment = ""
	user := ""
	pass := ""
	if endpointURL.User != nil {
		user = endpointURL.User.Username()
		pass, _ = endpointURL.User.Password()
	}
	endpointURL.User = nil

	return Endpoint{
		Raw:     raw,
		BaseURL: strings.TrimRight(endpointURL.String(), "/"),
		Owner:   owner,
		Repo:    repo,
		user:    user,
		pass:    pass,
	}, nil
}

func splitPathSegments(p string) []string {
	p = strings.TrimSpace(path.Clean(p))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}
