package main

import (
	"os"

	"github.com/stagebuild/stagebuild/cmd"
	"github.com/stagebuild/stagebuild/internal/codes"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(codes.FromError(err))
	}
}
