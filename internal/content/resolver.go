package content

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/metrics"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/workspace"
)

const (
	// AssetBaseURL is the virtual domain the app serves bundled assets from.
	AssetBaseURL = "https://appassets.androidplatform.net/assets/"
	// DefaultEntry is the entry page of a git site when none is given.
	DefaultEntry = "index.html"
	// DefaultBranch is assumed for live git sites without a branch.
	DefaultBranch = "main"
)

// GitExporter fetches a git remote and copies its worktree into dest.
type GitExporter interface {
	Export(ctx context.Context, url, branch, dest string) error
}

// Resolver turns a ContentSource into a request.Site.
type Resolver struct {
	stagingDir string
	git        GitExporter
	recorder   metrics.Recorder
}

// NewResolver creates a resolver staging archive and git content below
// stagingDir. A nil git exporter rejects bundled git content.
func NewResolver(stagingDir string, git GitExporter) *Resolver {
	return &Resolver{stagingDir: stagingDir, git: git, recorder: metrics.NoopRecorder{}}
}

// SetRecorder sets the metrics recorder.
func (r *Resolver) SetRecorder(rec metrics.Recorder) {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	r.recorder = rec
}

// AssetURL returns the in-app URL of a bundled file at rel.
func AssetURL(rel string) string {
	return AssetBaseURL + strings.TrimLeft(rel, "/")
}

// Prepare validates req's content and attaches the resolved site.
func (r *Resolver) Prepare(ctx context.Context, req *request.BuildRequest) error {
	if err := req.Content.Validate(); err != nil {
		return err
	}
	site, err := r.Resolve(ctx, req.Content)
	if err != nil {
		return err
	}
	req.Site = &site
	return nil
}

// Resolve materializes src. Archive and bundled git sites get a private
// staging workspace; they are ephemeral and must be removed by the consumer
// once built.
func (r *Resolver) Resolve(ctx context.Context, src request.ContentSource) (request.Site, error) {
	var (
		site request.Site
		err  error
	)
	switch src.Kind {
	case request.ContentArchive:
		site, err = r.resolveArchive(src.ArchivePath)
	case request.ContentGit:
		site, err = r.resolveGit(ctx, src)
	case request.ContentURL:
		site = request.Site{EntryURL: src.URL}
	default:
		err = errors.ValidationError("unknown content kind").
			WithContext("field", "content").
			WithContext("value", string(src.Kind)).
			Build()
	}
	r.recorder.IncContentFetch(string(src.Kind), err == nil)
	if err != nil {
		return request.Site{}, err
	}
	slog.DebugContext(ctx, "Content resolved", slog.String("kind", string(src.Kind)), logfields.URL(site.EntryURL), logfields.Path(site.Dir))
	return site, nil
}

func (r *Resolver) resolveArchive(archive string) (request.Site, error) {
	ws, err := r.newWorkspace()
	if err != nil {
		return request.Site{}, err
	}
	dir := ws.GetPath()
	fail := func(err error, msg string) (request.Site, error) {
		if cerr := ws.Cleanup(); cerr != nil {
			slog.Warn("Failed to remove staging workspace", logfields.Path(dir), logfields.Error(cerr))
		}
		return request.Site{}, errors.WrapError(err, errors.CategoryContent, msg).
			WithStage(errors.StageValidation).
			WithContext("field", "zip_file").
			WithContext("path", archive).
			Build()
	}

	if err := ExtractArchive(archive, dir); err != nil {
		return fail(err, "failed to extract archive")
	}
	entry, err := FindEntry(dir)
	if err != nil {
		return fail(err, "archive has no entry page")
	}
	return request.Site{
		Dir:       dir,
		EntryURL:  AssetURL(entry),
		Title:     fileTitle(filepath.Join(dir, filepath.FromSlash(entry))),
		Ephemeral: true,
	}, nil
}

func (r *Resolver) resolveGit(ctx context.Context, src request.ContentSource) (request.Site, error) {
	entry := strings.TrimLeft(path.Clean("/"+src.GitEntry), "/")
	if src.GitEntry == "" || entry == "" {
		entry = DefaultEntry
	}

	if src.GitLive {
		live, err := RawURL(src.GitURL, src.GitBranch, entry)
		if err != nil {
			return request.Site{}, errors.WrapError(err, errors.CategoryValidation, "git url cannot be served live").
				WithStage(errors.StageValidation).
				WithContext("field", "git_url").
				WithContext("value", src.GitURL).
				Build()
		}
		return request.Site{EntryURL: live}, nil
	}

	if r.git == nil {
		return request.Site{}, errors.ConfigError("git content is not enabled").Build()
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return request.Site{}, err
	}
	dir := ws.GetPath()
	fail := func(err error) (request.Site, error) {
		if cerr := ws.Cleanup(); cerr != nil {
			slog.Warn("Failed to remove staging workspace", logfields.Path(dir), logfields.Error(cerr))
		}
		return request.Site{}, err
	}

	if err := r.git.Export(ctx, src.GitURL, src.GitBranch, dir); err != nil {
		return fail(err)
	}
	entryPath := filepath.Join(dir, filepath.FromSlash(entry))
	if info, err := os.Stat(entryPath); err != nil || info.IsDir() {
		return fail(errors.ContentError("entry page not found in repository").
			WithStage(errors.StageValidation).
			WithContext("field", "git_entry").
			WithContext("value", entry).
			Build())
	}
	return request.Site{
		Dir:       dir,
		EntryURL:  AssetURL(entry),
		Title:     fileTitle(entryPath),
		Ephemeral: true,
	}, nil
}

func (r *Resolver) newWorkspace() (*workspace.Manager, error) {
	ws := workspace.NewManager(r.stagingDir)
	if err := ws.Create(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create staging workspace").
			WithContext("path", r.stagingDir).
			Build()
	}
	return ws, nil
}
