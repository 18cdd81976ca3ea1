package commands

import (
	"context"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/webapk/internal/baseline"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/project"
	"git.home.luguber.info/inful/webapk/internal/recovery"
)

// RecoverCmd implements the 'recover' command.
type RecoverCmd struct{}

func (r *RecoverCmd) Run(g *Global, root *CLI) error {
	cfg, err := LoadConfig(root)
	if err != nil {
		return err
	}
	tree, err := project.Open(project.LayoutFromConfig(cfg.Project))
	if err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to open android project").
			WithContext("root", cfg.Project.Root).
			Build()
	}
	supervisor := recovery.NewSupervisor(tree, baseline.NewStore(cfg.State.Directory))
	report, err := supervisor.Reconcile(context.Background())
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(g.out())
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}
