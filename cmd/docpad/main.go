package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/docpad/internal/app"
)

// ビルド時に -ldflags で設定する。
var version = "dev"

func main() {
	rootCmd := app.NewRootCommand(os.Stdout)
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
