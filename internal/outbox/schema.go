package outbox

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// queueDocumentSchema guards Load against structurally broken documents: a
// file that parses as JSON but is not a queue snapshot is treated the same as
// corruption, not fed into the record list. It deliberately checks structure
// only; record-level rules such as the kind enum live in Validate, so one bad
// record is dropped individually instead of discarding the whole snapshot.
const queueDocumentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "records"],
  "properties": {
    "version": {"type": "integer", "minimum": 0},
    "records": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind", "actorId", "createdAt"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"type": "string", "minLength": 1},
          "actorId": {"type": "string", "minLength": 1},
          "createdAt": {"type": "integer"},
          "actorName": {"type": "string"},
          "collectionId": {"type": "string"},
          "attachmentId": {"type": "string"},
          "payload": {"type": "string"},
          "width": {"type": "integer", "minimum": 0},
          "height": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var (
	queueSchemaOnce     sync.Once
	queueSchemaCompiled *jsonschema.Schema
	queueSchemaErr      error
)

func compiledQueueSchema() (*jsonschema.Schema, error) {
	queueSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(queueDocumentSchema))
		if err != nil {
			queueSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("outbox-queue.schema.json", doc); err != nil {
			queueSchemaErr = err
			return
		}
		queueSchemaCompiled, queueSchemaErr = compiler.Compile("outbox-queue.schema.json")
	})
	return queueSchemaCompiled, queueSchemaErr
}

func validateQueueDocument(data []byte) error {
	schema, err := compiledQueueSchema()
	if err != nil {
		return fmt.Errorf("compile queue schema: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}
