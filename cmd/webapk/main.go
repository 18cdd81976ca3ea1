package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/webapk/cmd/webapk/commands"
	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("webapk"),
		kong.Description("Turn a web site into a signed Android APK by patching a shared project skeleton."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	global := &commands.Global{Stdout: os.Stdout}
	if err := parser.Run(global, cli); err != nil {
		errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
