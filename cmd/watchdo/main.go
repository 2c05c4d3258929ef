package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/macropower/watchdo/internal/cli"
	"github.com/macropower/watchdo/pkg/version"
)

func main() {
	err := fang.Execute(context.Background(), cli.NewRootCmd(),
		fang.WithVersion(version.GetVersion()),
		fang.WithCommit(version.Revision),
		fang.WithErrorHandler(cli.ErrorHandler),
		fang.WithColorSchemeFunc(cli.ColorScheme),
	)
	if err != nil {
		os.Exit(1)
	}
}
