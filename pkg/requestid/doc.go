// Package requestid tags every HTTP request with an id that is echoed in the
// X-Request-ID response header and attached to log records.
package requestid
