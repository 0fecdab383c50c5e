//go:build windows

package process

import "strings"

// shellCommand rewrites an argv for interpretation by cmd.exe.
func shellCommand(command []string) []string {
	return []string{"cmd", "/C", strings.Join(command, " ")}
}
