package checkpoint

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var metadataSchema = gojsonschema.NewStringLoader(schemaJSON)

// validateMetadata checks a raw metadata line against the schema.
func validateMetadata(raw []byte) error {
	result, err := gojsonschema.Validate(metadataSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: metadata is not valid JSON: %w", ErrCorrupt, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}

	return fmt.Errorf("%w: metadata: %s", ErrCorrupt, strings.Join(problems, "; "))
}
