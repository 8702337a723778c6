// Package requestid propagates a per-request correlation ID through HTTP
// middleware and context. Inbound X-Request-ID headers are honored when they
// look sane; otherwise a fresh UUID is generated. The resolved ID is echoed
// back on the response and made available via FromContext and LogAttr.
package requestid
