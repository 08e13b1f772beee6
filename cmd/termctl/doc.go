/*
Package main is termctl, the command line client for a termbroker server.

	termctl ls
	termctl send 3 "make test"
	termctl resize 3 120 40
	termctl kill 3 --wait 5s
	termctl attach --cwd /srv/app

attach opens a new session over the stream endpoint and connects the local
terminal to it. Ctrl-] detaches and kills the session.
*/
package main
