package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hyperjump/bunsho/internal/models"
)

// Schema is a collection definition read from a JSON schema file.
// Definition holds the raw document so store backends can pass it through.
type Schema struct {
	Class      string
	Definition map[string]interface{}
}

// LoadSchema reads the schema file at path. When the file does not exist it returns
// a nil schema and DefaultCollection; when the class field is absent the collection
// falls back to DefaultCollection.
func LoadSchema(path string) (*Schema, string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.DefaultCollection, nil
	}
	if err != nil {
		return nil, models.DefaultCollection, fmt.Errorf("failed to read schema: %w", err)
	}
	var def map[string]interface{}
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, models.DefaultCollection, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}
	class, _ := def["class"].(string)
	if class == "" {
		class = models.DefaultCollection
	}
	return &Schema{Class: class, Definition: def}, class, nil
}

// ForCollection returns a copy of the schema with its class renamed to collection.
// The copy always declares the standard record properties; any the file leaves
// out are appended. A nil receiver yields only the standard properties.
func (s *Schema) ForCollection(collection string) *Schema {
	def := make(map[string]interface{})
	if s != nil {
		for k, v := range s.Definition {
			def[k] = v
		}
	}
	declared, _ := def["properties"].([]interface{})
	seen := make(map[string]bool, len(declared))
	for _, p := range declared {
		if m, ok := p.(map[string]interface{}); ok {
			if name, ok := m["name"].(string); ok {
				seen[name] = true
			}
		}
	}
	props := append([]interface{}(nil), declared...)
	for _, name := range models.StandardProperties {
		if !seen[name] {
			props = append(props, map[string]interface{}{"name": name, "dataType": []interface{}{"text"}})
		}
	}
	def["properties"] = props
	def["class"] = collection
	return &Schema{Class: collection, Definition: def}
}
