// Package adapter binds a terminal widget to one broker session: it spawns
// on activation, streams output into the widget, forwards keystrokes and
// resizes, and releases everything on deactivation.
package adapter
