// Package server wires the session broker, its REST and stream surfaces
// and the ambient middleware into one HTTP server.
package server
