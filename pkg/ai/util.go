package ai

import (
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

var schemaCache sync.Map // reflect.Type -> *jsonschema.Schema

// GenerateSchema returns the JSON Schema of value's type, inlined and
// closed to additional properties. Pointer types resolve to their element.
// Schemas are built once per type.
func GenerateSchema(value any) *jsonschema.Schema {
	t := reflect.TypeOf(value)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if s, ok := schemaCache.Load(t); ok {
		return s.(*jsonschema.Schema)
	}

	r := jsonschema.Reflector{DoNotReference: true}
	s := r.ReflectFromType(t)
	actual, _ := schemaCache.LoadOrStore(t, s)
	return actual.(*jsonschema.Schema)
}
