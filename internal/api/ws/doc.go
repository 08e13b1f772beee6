/*
Package ws serves the session stream over WebSocket.

A client spawns sessions, sends control messages and receives each
spawned session's output on one connection. Every message is a JSON text
frame:

	{"kind": "spawn", "sessionId": 0, "requestId": "r1", "payload": {"cols": 80, "rows": 30}}
	{"kind": "spawn", "sessionId": 3, "requestId": "r1", "payload": {"id": 3, "cwd": "/home/u", "cols": 80, "rows": 30, "pid": 4242}}
	{"kind": "write", "sessionId": 3, "payload": {"data": "bHMK"}}
	{"kind": "data", "sessionId": 3, "payload": {"data": "ZmlsZQo="}}
	{"kind": "exit", "sessionId": 3, "payload": {"exitCode": 0}}

Byte payloads are base64. A session's events are never sent before its
spawn response. Error frames with session id 0 report protocol problems;
error frames with a session id end that session.

Closing the connection kills the sessions it spawned.
*/
package ws
