package agentlog

import _ "embed"

// SchemaID is the $id of the embedded agentlog.v1 JSON schema.
const SchemaID = "https://logit.dev/schemas/agentlog.v1.schema.json"

//go:embed schema.json
var schemaDocument []byte

// SchemaDocument returns a copy of the agentlog.v1 JSON schema.
func SchemaDocument() []byte {
	return append([]byte(nil), schemaDocument...)
}
