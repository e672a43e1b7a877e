// Package api holds the OpenAPI document of the HTTP API.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte
