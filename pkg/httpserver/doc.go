// Package httpserver runs the keytier HTTP listener with graceful shutdown and
// provides liveness and readiness handlers.
package httpserver
