// Package httpserver builds the shared http.Server for the donation API.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server tuned for this traffic profile: small JSON request
// bodies from the API and processor webhook deliveries over keep-alive
// connections. The write timeout sits above the router's 30s handler timeout
// so a timed-out handler still gets its response out.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
