package terminal

import "runtime"

// Platform is the OS the broker runs on, in GOOS form.
func Platform() string { return runtime.GOOS }

// LineTerminator is what a shell on platform expects after a command line.
func LineTerminator(platform string) string {
	if platform == "windows" {
		return "\r\n"
	}
	return "\n"
}
