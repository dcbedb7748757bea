package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cryguy/nexo"
)

func main() {
	app := &cli.App{
		Name:    "nexo",
		Usage:   "multi-tenant JavaScript function runtime",
		Version: nexo.Version,
		Commands: []*cli.Command{
			ServeCommand(),
			RunCommand(),
			CheckCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "nexo:", err)
		os.Exit(1)
	}
}
