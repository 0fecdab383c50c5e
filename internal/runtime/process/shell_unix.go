//go:build !windows

package process

import "strings"

// shellCommand rewrites an argv for shell interpretation. Callers above the
// spawn layer never see this branching.
func shellCommand(command []string) []string {
	return []string{"/bin/sh", "-c", strings.Join(command, " ")}
}
