package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaFor infers a JSON schema for the parameters struct T.
func SchemaFor[T any]() (map[string]any, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("inferring schema: %w", err)
	}

	buf, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	// gojsonschema only understands up to draft 7.
	delete(m, "$schema")
	return m, nil
}

func MustSchemaFor[T any]() map[string]any {
	m, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return m
}

// NewHandler decodes the call arguments into T before invoking fn.
func NewHandler[T any](fn func(ctx context.Context, params T) (*ToolCallResult, error)) Handler {
	return func(ctx context.Context, call ToolCall) (*ToolCallResult, error) {
		var params T
		if err := decodeArguments(call.Arguments, &params); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
		}
		return fn(ctx, params)
	}
}

func decodeArguments(args map[string]any, v any) error {
	if args == nil {
		args = map[string]any{}
	}
	buf, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}
