// Package http provides the JSON endpoints served next to the stream:
// service info, health and session listings.
package http
