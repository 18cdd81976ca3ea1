// Package patch plans and applies the deltas that bring the shared project
// tree to the configuration a BuildRequest asks for.
package patch

import (
	"context"
	"log/slog"
	"sort"

	"git.home.luguber.info/inful/webapk/internal/baseline"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/project"
	"git.home.luguber.info/inful/webapk/internal/request"
)

// Options names the resources the engine writes.
type Options struct {
	NameKey       string // string resource holding the display name
	EntryConstant string // source constant receiving the entry URL
}

// Engine applies requests to a tree and records the result in the baseline store.
type Engine struct {
	tree  *project.Tree
	store *baseline.Store
	opts  Options
}

// NewEngine constructs an engine.
func NewEngine(tree *project.Tree, store *baseline.Store, opts Options) *Engine {
	if opts.NameKey == "" {
		opts.NameKey = "app_name"
	}
	if opts.EntryConstant == "" {
		opts.EntryConstant = "MAIN_URL"
	}
	return &Engine{tree: tree, store: store, opts: opts}
}

// Plan returns the operations needed to move a tree in state st to req, in
// application order: identifier change, assets, display name, icon, entry URL,
// the caller's variables sorted by name, then the recorded defaults of every
// constant req leaves unset.
func (e *Engine) Plan(st baseline.State, req *request.BuildRequest) []project.Operation {
	layout := e.tree.Layout()
	var ops []project.Operation

	if !st.Known() || st.CurrentAppID != req.AppID {
		ops = append(ops, project.RenamePackage{From: st.CurrentAppID, To: req.AppID})
	}

	site := req.Site
	if site == nil {
		site = &request.Site{}
	}
	ops = append(ops,
		project.SyncDirectory{Source: site.Dir, Target: layout.AssetsDir},
		project.SetResourceString{Key: e.opts.NameKey, Value: req.ResolvedDisplayName()},
		project.ReplaceFile{Source: req.IconPath, Target: layout.IconPath},
	)

	set := make(map[string]bool, len(req.SourceVariables)+1)
	if _, explicit := req.SourceVariables[e.opts.EntryConstant]; !explicit && site.EntryURL != "" {
		ops = append(ops, project.SetDeclaredConstant{Name: e.opts.EntryConstant, Value: site.EntryURL})
		set[e.opts.EntryConstant] = true
	}
	for _, name := range req.SourceVariables.Names() {
		ops = append(ops, constantOp(name, req.SourceVariables[name]))
		set[name] = true
	}

	restore := make([]string, 0, len(st.Defaults))
	for name := range st.Defaults {
		if !set[name] {
			restore = append(restore, name)
		}
	}
	sort.Strings(restore)
	for _, name := range restore {
		ops = append(ops, project.SetDeclaredConstant{Name: name, Value: st.Defaults[name], Form: project.Expression})
	}
	return ops
}

func constantOp(name string, v request.Value) project.SetDeclaredConstant {
	form := project.StringLiteral
	if v.IsBool {
		form = project.BoolLiteral
	}
	return project.SetDeclaredConstant{Name: name, Value: v.Text, Form: form}
}

// Apply plans and applies req against the tree. The rename is journaled:
// PendingAppID is persisted before the directory moves and cleared, together
// with the new CurrentAppID, once it has. The returned state is what was saved.
func (e *Engine) Apply(ctx context.Context, st baseline.State, req *request.BuildRequest) (baseline.State, error) {
	for _, op := range e.Plan(st, req) {
		rename, isRename := op.(project.RenamePackage)
		if isRename {
			if rename.From == "" {
				rename.From = e.singlePackageDir()
				op = rename
			}
			journaled, err := e.store.Update(func(s *baseline.State) { s.PendingAppID = rename.To })
			if err != nil {
				return st, patchFailure(err, op, "failed to journal package rename")
			}
			st = journaled
		}

		if c, ok := op.(project.SetDeclaredConstant); ok && c.Form != project.Expression {
			recorded, err := e.recordDefault(st, c.Name)
			if err != nil {
				return st, patchFailure(err, op, "failed to record constant default")
			}
			st = recorded
		}

		out, err := e.tree.Apply(ctx, op)
		if err != nil {
			return st, patchFailure(err, op, "failed to apply project operation")
		}
		if !out.Matched {
			slog.DebugContext(ctx, "Project operation matched nothing", slog.String("operation", op.Kind()), logfields.AppID(req.AppID))
		}

		if isRename {
			saved, err := e.store.Update(func(s *baseline.State) {
				s.CurrentAppID = rename.To
				s.PendingAppID = ""
			})
			if err != nil {
				return st, patchFailure(err, op, "failed to record package rename")
			}
			st = saved
			if left, err := e.tree.ContainsReference(rename.From); err == nil && len(left) > 0 {
				slog.WarnContext(ctx, "Files still reference the previous package",
					slog.String("from", rename.From), slog.Any("files", left))
			}
		}
	}
	return st, nil
}

// recordDefault saves the current right-hand side of name the first time a
// build overwrites it, so later builds that leave name unset can restore it.
func (e *Engine) recordDefault(st baseline.State, name string) (baseline.State, error) {
	if _, known := st.Defaults[name]; known {
		return st, nil
	}
	expr, ok, err := e.tree.DeclaredExpression(name)
	if err != nil || !ok {
		return st, err
	}
	return e.store.Update(func(s *baseline.State) {
		if s.Defaults == nil {
			s.Defaults = make(map[string]string)
		}
		if _, known := s.Defaults[name]; !known {
			s.Defaults[name] = expr
		}
	})
}

// singlePackageDir returns the only package directory, or "" when there is not exactly one.
func (e *Engine) singlePackageDir() string {
	dirs, err := e.tree.PackageDirs()
	if err != nil || len(dirs) != 1 {
		return ""
	}
	return dirs[0]
}

func patchFailure(err error, op project.Operation, msg string) error {
	return errors.PatchError(msg).
		WithCause(err).
		WithContext("operation", op.Kind()).
		Build()
}
