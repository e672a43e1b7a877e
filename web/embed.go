// Package web embeds the browser player served at /.
package web

import "embed"

// Assets holds the static player page under static/.
//
//go:embed static
var Assets embed.FS
