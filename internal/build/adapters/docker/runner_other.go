//go:build !unix

package docker

import "os/exec"

// killProcessGroup keeps the exec default of killing only the direct child.
func killProcessGroup(*exec.Cmd) {}
