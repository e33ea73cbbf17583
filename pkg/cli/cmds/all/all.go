// Package all registers all shell commands.
package all

import (
	_ "github.com/robotalks/gos.go/pkg/cli/cmds/link"
	_ "github.com/robotalks/gos.go/pkg/cli/cmds/store"
)
