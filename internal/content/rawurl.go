package content

import (
	"fmt"
	"net/url"
	"strings"
)

// RawURL converts a repository URL into a URL that serves entry from branch
// directly, for apps that load a repository live instead of bundling it.
// GitHub goes through raw.githack.com, GitLab and Codeberg through their
// pages hosts, and any other forge through its /raw/branch/ path.
func RawURL(repoURL, branch, entry string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL %q: %w", repoURL, err)
	}
	host := strings.ToLower(u.Host)
	p := strings.TrimSuffix(strings.TrimRight(u.Path, "/"), ".git")
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if host == "" || len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid repository URL %q: expected <host>/<user>/<repo>", repoURL)
	}
	user, repo := parts[0], parts[1]
	if branch == "" {
		branch = DefaultBranch
	}
	entry = strings.TrimLeft(entry, "/")
	if entry == "" {
		entry = DefaultEntry
	}

	switch {
	case strings.Contains(host, "github.com"):
		return fmt.Sprintf("https://raw.githack.com/%s/%s/%s/%s", user, repo, branch, entry), nil
	case strings.Contains(host, "gitlab.com"):
		return fmt.Sprintf("https://%s.gitlab.io/%s/%s", user, repo, entry), nil
	case strings.Contains(host, "codeberg.org"):
		return fmt.Sprintf("https://%s.codeberg.page/%s/%s", user, repo, entry), nil
	default:
		scheme := u.Scheme
		if scheme != "http" {
			scheme = "https"
		}
		return fmt.Sprintf("%s://%s/%s/%s/raw/branch/%s/%s", scheme, host, user, repo, branch, entry), nil
	}
}
