package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/webapk/internal/build/queue"
	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/daemon"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/request"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Request   string            `short:"r" help:"YAML build request file; flags override its fields" type:"existingfile"`
	AppID     string            `name:"app-id" help:"Application identifier (letters, digits, underscore)"`
	Name      string            `help:"Display name shown under the launcher icon"`
	Icon      string            `help:"Launcher icon (PNG or JPEG)" type:"path"`
	Zip       string            `help:"Zip archive holding the site" type:"path"`
	GitURL    string            `name:"git-url" help:"Repository holding the site"`
	GitBranch string            `name:"git-branch" help:"Branch to check out (default: main)"`
	GitEntry  string            `name:"git-entry" help:"Entry page inside the repository (default: index.html)"`
	GitLive   bool              `name:"git-live" help:"Load the repository's hosted pages instead of bundling them"`
	URL       string            `name:"url" help:"Remote entry URL"`
	Var       map[string]string `name:"var" help:"Source variable NAME=VALUE; true/false set booleans"`
	Timeout   time.Duration     `help:"Override build.timeout for this run"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := LoadConfig(root)
	if err != nil {
		return err
	}
	if b.Timeout > 0 {
		cfg.Build.Timeout = b.Timeout.String()
	}
	req, err := b.buildRequest()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := RunBuild(ctx, cfg, req, g.out(), daemon.ComponentOptions{SkipNotifier: true})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.out(), "APK ready: %s\n", res.ArtifactPath)
	_, _ = fmt.Fprintf(g.out(), "BLAKE3: %s\n", res.ArtifactDigest)
	return nil
}

// buildRequest merges the request file with the flags.
func (b *BuildCmd) buildRequest() (*request.BuildRequest, error) {
	req := &request.BuildRequest{}
	if b.Request != "" {
		var err error
		if req, err = loadRequestFile(b.Request); err != nil {
			return nil, err
		}
	}

	setIf(&req.AppID, b.AppID)
	setIf(&req.DisplayName, b.Name)
	setIf(&req.IconPath, b.Icon)
	for name, value := range b.Var {
		if req.SourceVariables == nil {
			req.SourceVariables = request.Variables{}
		}
		req.SourceVariables[name] = request.ParseValue(value)
	}

	switch {
	case b.Zip != "":
		req.Content = request.ContentSource{Kind: request.ContentArchive, ArchivePath: b.Zip}
	case b.GitURL != "":
		req.Content = request.ContentSource{
			Kind:      request.ContentGit,
			GitURL:    b.GitURL,
			GitBranch: b.GitBranch,
			GitEntry:  b.GitEntry,
			GitLive:   b.GitLive,
		}
	case b.URL != "":
		req.Content = request.ContentSource{Kind: request.ContentURL, URL: b.URL}
	}
	return req, nil
}

// loadRequestFile reads a YAML request. Relative icon and archive paths are
// taken relative to the file.
func loadRequestFile(path string) (*request.BuildRequest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "failed to read request file").
			WithStage(errors.StageValidation).
			WithContext("path", path).
			Build()
	}
	var req request.BuildRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid request file").
			WithStage(errors.StageValidation).
			WithContext("path", path).
			Build()
	}
	base := filepath.Dir(path)
	req.IconPath = relativeTo(base, req.IconPath)
	req.Content.ArchivePath = relativeTo(base, req.Content.ArchivePath)
	return &req, nil
}

func relativeTo(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// RunBuild performs one build through the same coordinator the daemon uses
// and prints progress lines to out.
func RunBuild(ctx context.Context, cfg *config.Config, req *request.BuildRequest, out io.Writer, opts daemon.ComponentOptions) (queue.Result, error) {
	components, err := daemon.NewComponents(ctx, cfg, opts)
	if err != nil {
		return queue.Result{}, errors.WrapError(err, errors.CategoryConfig, "failed to initialize build components").Build()
	}
	defer func() {
		if err := components.Close(); err != nil {
			slog.Warn("Failed to close build components", "error", err)
		}
	}()

	coord := components.Coordinator
	coord.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = coord.Stop(stopCtx)
	}()

	if err := req.Validate(); err != nil {
		return queue.Result{}, err
	}
	if err := components.Resolver.Prepare(ctx, req); err != nil {
		return queue.Result{}, err
	}
	snap, err := coord.Submit(ctx, req)
	if err != nil {
		return queue.Result{}, err
	}

	printed := make(chan struct{})
	if updates, unsubscribe, err := coord.Subscribe(snap.ID); err == nil {
		defer unsubscribe()
		go func() {
			defer close(printed)
			for p := range updates {
				_, _ = fmt.Fprintf(out, "[%3d%%] %s\n", p.Percent, p.Message)
			}
		}()
	} else {
		close(printed)
	}

	res, err := coord.Await(ctx, snap.ID)
	if err != nil {
		return res, errors.WrapError(err, errors.CategoryQueue, "build interrupted").Build()
	}
	<-printed
	if !res.Succeeded() {
		if res.Err != nil {
			return res, res.Err
		}
		return res, errors.NewError(errors.CategoryQueue, "build "+string(res.Status)+": "+res.Message).
			WithStage(res.Stage).
			Build()
	}
	return res, nil
}
