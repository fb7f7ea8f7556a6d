// Package procgroup runs external tools in their own process group so that a
// cancelled context takes down the tool and every child it spawned.
package procgroup

import (
	"os/exec"
	"time"
)

// DefaultWaitDelay bounds how long Wait blocks on inherited pipes after the
// group has been killed.
const DefaultWaitDelay = 2 * time.Second

// Prepare configures cmd (created with exec.CommandContext) to start in a new
// process group and to kill that group when its context is done.
func Prepare(cmd *exec.Cmd) {
	set(cmd)
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}
	cmd.WaitDelay = DefaultWaitDelay
}
