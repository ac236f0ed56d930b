package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const unlistedReportSchema = `{
	"type": "object",
	"required": ["phone_number"],
	"additionalProperties": false,
	"properties": {
		"phone_number": {"type": "string", "pattern": "^\\+?[0-9][0-9 -]{4,31}$"},
		"purpose": {"type": "string", "maxLength": 500},
		"comment": {"type": "string", "maxLength": 1000}
	}
}`

var unlistedSchema = mustSchema(unlistedReportSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("api: invalid schema: %v", err))
	}
	return s
}

// validatePayload checks body against schema and joins the violations.
func validatePayload(schema *gojsonschema.Schema, body []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
