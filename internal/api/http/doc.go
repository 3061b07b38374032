/*
Package http provides the REST surface of the server.

Routes:

	GET  /               liveness
	GET  /health         session, connection and sandbox stats
	GET  /languages      configured language profiles
	GET  /sessions/:id   session snapshot
	POST /execute        run code, alias POST /run-code

Errors are returned as {"error": message, "code": kind} with the status
given by StatusFor. Internal error details are logged, never returned.
*/
package http
