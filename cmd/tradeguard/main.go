package main

import (
	"os"

	"tradeguard/cmd/tradeguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
