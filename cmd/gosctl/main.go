package main

import (
	"github.com/robotalks/gos.go/pkg/cli/sh"

	_ "github.com/robotalks/gos.go/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func init() {
	sh.SetupFlags()
}

func main() {
	sh.Main()
}
