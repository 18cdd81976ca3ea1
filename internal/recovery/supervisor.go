// Package recovery reconciles the shared project tree with its recorded
// baseline before every build, repairing what an interrupted run left behind.
package recovery

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"git.home.luguber.info/inful/webapk/internal/baseline"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/metrics"
	"git.home.luguber.info/inful/webapk/internal/project"
	"git.home.luguber.info/inful/webapk/internal/request"
)

// Report describes what a reconciliation found and changed.
type Report struct {
	AppID            string   `json:"app_id" yaml:"app_id"`
	DescriptorID     string   `json:"descriptor_id,omitempty" yaml:"descriptor_id,omitempty"`
	Repaired         bool     `json:"repaired" yaml:"repaired"`
	StaleIDs         []string `json:"stale_ids,omitempty" yaml:"stale_ids,omitempty"`
	RewrittenFiles   []string `json:"rewritten_files,omitempty" yaml:"rewritten_files,omitempty"`
	RemovedArtifacts []string `json:"removed_artifacts,omitempty" yaml:"removed_artifacts,omitempty"`
}

// Supervisor owns the reconciliation of tree and baseline.
type Supervisor struct {
	tree     *project.Tree
	store    *baseline.Store
	recorder metrics.Recorder
}

// NewSupervisor constructs a supervisor.
func NewSupervisor(tree *project.Tree, store *baseline.Store) *Supervisor {
	return &Supervisor{tree: tree, store: store, recorder: metrics.NoopRecorder{}}
}

// SetRecorder injects a metrics recorder.
func (s *Supervisor) SetRecorder(r metrics.Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// Reconcile makes the tree and the baseline agree. The single package
// directory is ground truth: the descriptor, the recorded id and a pending
// journal id are rewritten to match it. Zero or several package directories
// cannot be resolved automatically and yield an operator-required error.
func (s *Supervisor) Reconcile(ctx context.Context) (Report, error) {
	var report Report

	dirs, err := s.tree.PackageDirs()
	if err != nil {
		return report, errors.WrapError(err, errors.CategoryRecovery, "failed to inspect package directories").
			WithStage(errors.StageRecovery).Build()
	}
	if len(dirs) != 1 {
		return report, errors.RecoveryError("project tree must contain exactly one package directory").
			UserAction().
			WithContext("package_dirs", strings.Join(dirs, ",")).
			WithContext("count", len(dirs)).
			Build()
	}
	actual := dirs[0]
	report.AppID = actual
	if !request.IsValidAppID(actual) {
		return report, errors.RecoveryError("package directory name is not a valid app id").
			UserAction().
			WithContext("package_dir", actual).
			Build()
	}

	st, err := s.store.Load()
	if err != nil {
		return report, errors.WrapError(err, errors.CategoryRecovery, "failed to load baseline state").
			WithStage(errors.StageRecovery).Build()
	}

	descriptorID, err := s.descriptorAppID()
	if err != nil {
		return report, err
	}
	report.DescriptorID = descriptorID

	for _, id := range []string{descriptorID, st.CurrentAppID, st.PendingAppID} {
		if id == "" || id == actual || !request.IsValidAppID(id) || slices.Contains(report.StaleIDs, id) {
			continue
		}
		report.StaleIDs = append(report.StaleIDs, id)
		out, err := s.tree.Apply(ctx, project.RewriteReferences{From: id, To: actual})
		if err != nil {
			return report, errors.WrapError(err, errors.CategoryRecovery, "failed to rewrite stale package references").
				WithStage(errors.StageRecovery).
				WithContext("stale_id", id).
				Build()
		}
		report.RewrittenFiles = append(report.RewrittenFiles, out.Changed...)
	}

	if descriptorID != "" && descriptorID != actual {
		after, err := s.descriptorAppID()
		if err != nil {
			return report, err
		}
		if after != actual {
			return report, errors.RecoveryError("build descriptor still disagrees with the package directory").
				UserAction().
				WithContext("descriptor_id", after).
				WithContext("package_dir", actual).
				Build()
		}
	}

	layout := s.tree.Layout()
	out, err := s.tree.Apply(ctx, project.RemoveFile{Target: layout.ArtifactPath})
	if err != nil {
		return report, errors.WrapError(err, errors.CategoryRecovery, "failed to remove stale build artifact").
			WithStage(errors.StageRecovery).Build()
	}
	report.RemovedArtifacts = out.Changed

	report.Repaired = len(report.StaleIDs) > 0 || st.CurrentAppID != actual || st.PendingAppID != ""
	if report.Repaired {
		if _, err := s.store.Update(func(b *baseline.State) {
			b.CurrentAppID = actual
			b.PendingAppID = ""
		}); err != nil {
			return report, errors.WrapError(err, errors.CategoryRecovery, "failed to record reconciled baseline").
				WithStage(errors.StageRecovery).Build()
		}
		slog.InfoContext(ctx, "Reconciled project tree with baseline",
			logfields.AppID(actual),
			slog.Any("stale_ids", report.StaleIDs),
			slog.Int("rewritten_files", len(report.RewrittenFiles)))
	}
	s.recorder.IncRecovery(report.Repaired)
	return report, nil
}

// descriptorAppID returns the app id segment declared by the build descriptor.
func (s *Supervisor) descriptorAppID() (string, error) {
	pkg, err := s.tree.DescriptorPackageID()
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryRecovery, "failed to read build descriptor").
			WithStage(errors.StageRecovery).Build()
	}
	if pkg == "" {
		return "", nil
	}
	id, ok := s.tree.Layout().AppIDFromPackageID(pkg)
	if !ok {
		return "", errors.RecoveryError("build descriptor declares a package outside the configured namespace").
			UserAction().
			WithContext("package_id", pkg).
			Build()
	}
	return id, nil
}
