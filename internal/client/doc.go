/*
Package client talks to a termbroker server.

Client wraps the REST surface. Reads go through a retrying transport;
control calls are sent once, since a repeated write would type twice.

	c := client.New(client.Config{BaseURL: "http://127.0.0.1:8000"})
	sessions, err := c.Sessions(ctx)

Stream wraps the WebSocket session stream and satisfies the terminal
adapter's broker contract:

	stream, err := client.Dial(ctx, "http://127.0.0.1:8000", logger)
	a := adapter.New(stream, widget, adapter.Options{}, logger)
	err = a.Activate()
*/
package client
