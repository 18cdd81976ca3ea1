package request

import (
	"fmt"
	"net/url"
	"strings"
)

// ContentKind selects where the web site of a request comes from.
type ContentKind string

const (
	ContentArchive ContentKind = "archive" // bundled zip archive extracted into the assets
	ContentGit     ContentKind = "git"     // git remote cloned into the assets, or loaded live
	ContentURL     ContentKind = "url"     // live URL; nothing is bundled
)

// ContentSource describes the caller's web content.
type ContentSource struct {
	Kind        ContentKind `json:"kind" yaml:"kind"`
	ArchivePath string      `json:"archive_path,omitempty" yaml:"archive_path,omitempty"`
	GitURL      string      `json:"git_url,omitempty" yaml:"git_url,omitempty"`
	GitBranch   string      `json:"git_branch,omitempty" yaml:"git_branch,omitempty"`
	GitEntry    string      `json:"git_entry,omitempty" yaml:"git_entry,omitempty"`
	GitLive     bool        `json:"git_live,omitempty" yaml:"git_live,omitempty"`
	URL         string      `json:"url,omitempty" yaml:"url,omitempty"`
}

// Site is the materialized content handed to the build pipeline.
type Site struct {
	// Dir holds local content to bundle as assets; empty for live sites.
	Dir string `json:"dir,omitempty"`
	// EntryURL is injected into the app's entry constant.
	EntryURL string `json:"entry_url"`
	// Title is the entry page <title>, used when no display name is given.
	Title string `json:"title,omitempty"`
	// Ephemeral marks Dir as a staging directory to remove after the build.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// BuildRequest is the caller-submitted description of one app build.
// It must not be modified after Submit.
type BuildRequest struct {
	AppID           string        `json:"app_id" yaml:"app_id"`
	DisplayName     string        `json:"name,omitempty" yaml:"name,omitempty"`
	IconPath        string        `json:"icon" yaml:"icon"`
	SourceVariables Variables     `json:"variables,omitempty" yaml:"variables,omitempty"`
	Content         ContentSource `json:"content" yaml:"content"`

	// Site is attached by the content resolver before submission.
	Site *Site `json:"site,omitempty" yaml:"-"`
}

// ResolvedDisplayName applies the fallback chain name, page title, app id.
func (r *BuildRequest) ResolvedDisplayName() string {
	if name := strings.TrimSpace(r.DisplayName); name != "" {
		return name
	}
	if r.Site != nil {
		if title := strings.TrimSpace(r.Site.Title); title != "" {
			return title
		}
	}
	return r.AppID
}

// EntryURL returns the materialized entry URL, or "" when no site is attached.
func (r *BuildRequest) EntryURL() string {
	if r.Site == nil {
		return ""
	}
	return r.Site.EntryURL
}

// String renders a short description for logs.
func (r *BuildRequest) String() string {
	return fmt.Sprintf("%s (%s)", r.AppID, r.Content.Kind)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
