//go:build windows

package tunnel

import "os/exec"

func setProcAttrs(cmd *exec.Cmd) {}
