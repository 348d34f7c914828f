package proto

import (
	"github.com/invopop/jsonschema"
)

// Schema describes the message envelope for tooling and validation.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&Message{})
	schema.Version = jsonschema.Version
	schema.Title = "Crate Clash Wire Message"
	schema.Description = "Envelope exchanged between clients and the authority over websockets."
	return schema
}
