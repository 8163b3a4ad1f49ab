package main

import (
	"os"

	"github.com/go-drift/videoplayer/cmd/videoplayerd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
