// Package daemon is the client side of the mcps broker. Client speaks the
// control API, Launcher starts a detached daemon when none answers, and
// Invoker routes each tool operation through the daemon or, when it cannot be
// reached, straight to the downstream server for that one request.
package daemon
