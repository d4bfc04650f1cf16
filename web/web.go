// Package web holds the browser page that projects a wall session.
package web

import _ "embed"

// Index is the single-page client.
//
//go:embed index.html
var Index []byte
