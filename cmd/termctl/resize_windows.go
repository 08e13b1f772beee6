//go:build windows

package main

import (
	"time"

	"golang.org/x/term"
)

// watchResize polls the console size; Windows has no resize signal.
func watchResize(fd int, fn func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		cols, rows, _ := term.GetSize(fd)
		for {
			select {
			case <-ticker.C:
				c, r, err := term.GetSize(fd)
				if err == nil && (c != cols || r != rows) {
					cols, rows = c, r
					fn()
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}
