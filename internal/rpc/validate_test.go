package rpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"name", "count"},
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
			"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
}

func TestValidateParams_MissingRequired(t *testing.T) {
	err := ValidateParams(schema(), json.RawMessage(`{"name":"x"}`))
	if err == nil || !strings.Contains(err.Error(), "count") {
		t.Fatalf("expected missing count error, got %v", err)
	}
}

func TestValidateParams_TypeMismatch(t *testing.T) {
	err := ValidateParams(schema(), json.RawMessage(`{"name":"x","count":"not a number"}`))
	if err == nil || !strings.Contains(err.Error(), "count") {
		t.Fatalf("expected type mismatch on count, got %v", err)
	}
}

func TestValidateParams_ArrayItemsRecurse(t *testing.T) {
	err := ValidateParams(schema(), json.RawMessage(`{"name":"x","count":1,"tags":["a",2]}`))
	if err == nil || !strings.Contains(err.Error(), "tags[1]") {
		t.Fatalf("expected array item validation error, got %v", err)
	}
}

func TestValidateParams_ValidPasses(t *testing.T) {
	err := ValidateParams(schema(), json.RawMessage(`{"name":"x","count":1,"tags":["a","b"]}`))
	if err != nil {
		t.Fatalf("expected valid params to pass, got %v", err)
	}
}

func TestValidateParams_NilSchemaAlwaysPasses(t *testing.T) {
	if err := ValidateParams(nil, json.RawMessage(`{"anything":true}`)); err != nil {
		t.Fatalf("expected nil schema to skip validation, got %v", err)
	}
}
