package dsl

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const documentSchemaURL = "flowgraph-document.json"

// documentSchema YAML 文档的结构约束，节点类型与表达式的合法性在 Build 时检查
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes", "edges"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string"},
    "max_steps": {"type": "integer", "minimum": 0},
    "trigger_mode": {"enum": ["any_predecessor", "all_predecessor"]},
    "interrupt_before": {"type": "array", "items": {"type": "string"}},
    "interrupt_after": {"type": "array", "items": {"type": "string"}},
    "state": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["strategy"],
        "properties": {"strategy": {"type": "string", "minLength": 1}},
        "additionalProperties": false
      }
    },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["key", "type"],
        "additionalProperties": false,
        "properties": {
          "key": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "timeout": {"type": "string"},
          "retries": {"type": "integer", "minimum": 0},
          "output_keys": {"type": "array", "items": {"type": "string"}},
          "config": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "additionalProperties": false,
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "when": {"type": "string"},
          "default": {"type": "boolean"},
          "fan_out": {"type": "boolean"}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func getDocumentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(documentSchemaURL, strings.NewReader(documentSchema)); err != nil {
			schemaErr = fmt.Errorf("add document schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(documentSchemaURL)
	})
	return compiledSchema, schemaErr
}

// validateDocument 按 JSON Schema 校验 YAML 解码出的原始值。
// YAML 解码结果先经 JSON 往返，统一数值与映射类型。
func validateDocument(raw any) error {
	s, err := getDocumentSchema()
	if err != nil {
		return err
	}

	b, err := sonic.Marshal(raw)
	if err != nil {
		return fmt.Errorf("normalize document: %w", err)
	}
	var normalized any
	if err := sonic.Unmarshal(b, &normalized); err != nil {
		return fmt.Errorf("normalize document: %w", err)
	}

	if err := s.Validate(normalized); err != nil {
		return fmt.Errorf("invalid graph document: %w", err)
	}
	return nil
}
