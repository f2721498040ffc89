package main

import (
	"fmt"
	"os"

	"github.com/CodyTseng/nostr-comments/internal/command"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if commit != "unknown" {
		command.Version = fmt.Sprintf("%s (%s, %s)", version, commit, date)
	} else {
		command.Version = version
	}

	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
