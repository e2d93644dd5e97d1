package main

import (
	"os"

	"github.com/tillberg/autorestart"

	"github.com/customermindiq/affchat/internal/cli"
)

func main() {
	if os.Getenv("AFFCHAT_DEV_RESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
