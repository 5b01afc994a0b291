package main

import (
	"github.com/alecthomas/kong"
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("continuityctl"),
		kong.Description("Inspect and validate a continuity store."),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

// Run executes the version command.
func (c *VersionCmd) Run(cli *CLI) error {
	println("continuityctl " + version)
	return nil
}
