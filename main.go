package main

import (
	"github.com/alecthomas/kong"

	"github.com/chanaliuxing/dirtyapply/cmd/cli"
)

var app struct {
	Plan  cli.PlanCmd  `cmd:"" help:"Detect fields and print the action plan without executing it."`
	Run   cli.RunCmd   `cmd:"" help:"Fill and optionally submit an application form."`
	Serve cli.ServeCmd `cmd:"" help:"Start the loopback companion automation service."`
}

func main() {
	ctx := kong.Parse(&app,
		kong.Name("dirtyapply"),
		kong.Description("Automates filling and submitting job application forms."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
