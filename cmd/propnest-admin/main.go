// Package main provides the propnest-admin CLI tool for support operations.
package main

import (
	"os"

	"github.com/propnest/propnest-backend/cmd/propnest-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
