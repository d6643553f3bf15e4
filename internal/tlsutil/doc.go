// Package tlsutil centralizes the hardened TLS settings used when the shared
// Redis result-cache tier runs over TLS (TLS 1.2+, AEAD cipher suites only).
package tlsutil
