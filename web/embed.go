// Package web holds the static assets served when STATIC_DIR is absent.
package web

import "embed"

//go:embed public
var PublicFiles embed.FS
