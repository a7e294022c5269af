package apiv1

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// DefaultSpecPath is where the v1 document lives relative to the project root.
const DefaultSpecPath = "public/docs/v1/openapi.yml"

// LoadSpec reads and validates the OpenAPI document.
func LoadSpec(ctx context.Context, path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load openapi document %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document %s: %w", path, err)
	}
	return doc, nil
}

var fiberParam = regexp.MustCompile(`:([A-Za-z_]+)`)

// OpenAPIPath converts a fiber route path to OpenAPI template syntax.
func OpenAPIPath(path string) string {
	return fiberParam.ReplaceAllString(path, "{$1}")
}

// CheckRoutes reports routes missing from the document.
func CheckRoutes(doc *openapi3.T) error {
	var missing []string
	for _, r := range Routes {
		item := doc.Paths.Find(OpenAPIPath(r.Path))
		if item == nil || item.GetOperation(r.Method) == nil {
			missing = append(missing, r.Method+" "+r.Path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("routes not documented: %s", strings.Join(missing, ", "))
	}
	return nil
}
