// Package app assembles the authentication service and hosts its HTTP server.
package app
