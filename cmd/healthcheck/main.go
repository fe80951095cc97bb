// Package main provides a minimal health check probe for container images
// that ship without wget or curl.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

const requestTimeout = 5 * time.Second

func main() {
	host := os.Getenv("HOST")
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	client := &http.Client{Timeout: requestTimeout}

	resp, err := client.Get(fmt.Sprintf("http://%s:%s/health", host, port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	// os.Exit bypasses deferred calls, close before checking status
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check returned non-OK status: %d\n", resp.StatusCode)
		os.Exit(1)
	}
}
