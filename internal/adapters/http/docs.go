package http

import (
	"fmt"
	"html"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"

	"github.com/flightviz/dronepath/api"
)

// swaggerPage renders Swagger UI for the document at specURL.
const swaggerPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>%s</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body style="margin:0">
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: %q, dom_id: '#swagger-ui', deepLinking: true, tryItOutEnabled: true });
  </script>
</body>
</html>`

// LoadOpenAPI parses the embedded API document. External references are
// not followed.
func LoadOpenAPI() (*openapi3.T, error) {
	loader := &openapi3.Loader{IsExternalRefsAllowed: false}
	doc, err := loader.LoadFromData(api.OpenAPI)
	if err != nil {
		return nil, fmt.Errorf("parse openapi: %w", err)
	}
	return doc, nil
}

// SetupDocs serves Swagger UI at /docs and the API document at
// /docs/openapi.yaml (as written) and /docs/openapi.json.
func SetupDocs(app *fiber.App) error {
	doc, err := LoadOpenAPI()
	if err != nil {
		return err
	}
	asJSON, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode openapi: %w", err)
	}
	page := fmt.Sprintf(swaggerPage, html.EscapeString(doc.Info.Title+" "+doc.Info.Version), "/docs/openapi.json")

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(page)
	})
	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(api.OpenAPI)
	})
	app.Get("/docs/openapi.json", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(asJSON)
	})
	return nil
}
