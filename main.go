package main

import (
	"os"

	"github.com/aniketshedge/quiz-me-app/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
