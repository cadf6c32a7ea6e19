package main

import (
	"os"

	"seniorvoice/cmd/seniorvoice/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
