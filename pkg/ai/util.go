package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema reflects the JSON schema of value's type for structured
// output. Definitions are inlined and extra properties are rejected.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflector.Reflect(reflect.New(t).Interface())
}

// jsonPayload cuts a model reply down to its JSON value: markdown fences
// and prose before the first brace or bracket are dropped, and a doubled
// opening brace is collapsed.
func jsonPayload(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	if i := strings.IndexAny(s, "{["); i > 0 {
		s = s[i:]
	}
	if rest, ok := strings.CutPrefix(s, "{"); ok {
		if rest = strings.TrimSpace(rest); strings.HasPrefix(rest, "{") {
			s = rest
		}
	}
	return s
}

// UnmarshalFlexible decodes a model reply into out. Plain JSON is tried
// first, then a JSON string holding the document, then the repaired
// payload of the reply.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)
	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	payload := jsonPayload(input)
	repaired, err := jsonrepair.JSONRepair(payload)
	if err != nil {
		return fmt.Errorf("repair model reply: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("decode repaired reply %q: %w", repaired, err)
	}
	return nil
}
