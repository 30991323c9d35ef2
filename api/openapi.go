// Package api holds the OpenAPI description of the bridge's REST routes.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
