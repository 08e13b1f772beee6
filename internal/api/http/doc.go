/*
Package http provides the REST surface of the session broker.

	GET    /                      service banner
	GET    /health                status and metric snapshot
	GET    /platform              platform name and line terminator
	GET    /sessions              live sessions
	GET    /sessions/:id          one session, 404 when unknown
	POST   /sessions/:id/input    {"data": "..."}
	POST   /sessions/:id/resize   {"cols": 120, "rows": 40}
	DELETE /sessions/:id          ?wait=2s awaits the exit
	POST   /sessions/teardown     kill every session

Control endpoints answer 202 with {"delivered": bool}. Unknown sessions
are not errors; malformed ids and bodies are 400.
*/
package http
