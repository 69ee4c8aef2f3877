package main

import (
	"os"

	"github.com/vivacli/viva/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
