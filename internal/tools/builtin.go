// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the host-side tool system for rigserve.
package tools

import (
	"context"
	"errors"
	"time"

	"github.com/jeranaias/rigserve/internal/jsonval"
)

// =============================================================================
// BUILTIN TOOLS
// =============================================================================

// RegisterBuiltins installs the small set of tools the daemon serves out of
// the box. Hosts with richer capabilities register their own definitions.
func RegisterBuiltins(r *Registry) error {
	builtins := []Definition{clockTool(), calculatorTool()}
	for _, def := range builtins {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func clockTool() Definition {
	params, _ := jsonval.DecodeString(`{
		"type": "object",
		"properties": {
			"format": {"type": "string", "description": "Go reference layout, default RFC3339"}
		}
	}`)
	return Definition{
		Name:        "clock",
		Description: "Returns the current time on the host.",
		Parameters:  params,
		Handler: func(ctx context.Context, args jsonval.Value) (jsonval.Value, error) {
			layout := args.StringField("format")
			if layout == "" {
				layout = time.RFC3339
			}
			return jsonval.Object(map[string]jsonval.Value{
				"time": jsonval.String(time.Now().Format(layout)),
			}), nil
		},
	}
}

func calculatorTool() Definition {
	params, _ := jsonval.DecodeString(`{
		"type": "object",
		"properties": {
			"op": {"type": "string", "enum": ["add", "sub", "mul", "div"]},
			"a":  {"type": "number"},
			"b":  {"type": "number"}
		},
		"required": ["op", "a", "b"]
	}`)
	return Definition{
		Name:        "calculator",
		Description: "Performs basic arithmetic on two numbers.",
		Parameters:  params,
		Handler: func(ctx context.Context, args jsonval.Value) (jsonval.Value, error) {
			a, okA := args.NumberField("a")
			b, okB := args.NumberField("b")
			if !okA || !okB {
				return jsonval.EmptyObject(), errors.New("calculator: a and b must be numbers")
			}
			var result float64
			switch args.StringField("op") {
			case "add":
				result = a + b
			case "sub":
				result = a - b
			case "mul":
				result = a * b
			case "div":
				if b == 0 {
					return jsonval.EmptyObject(), errors.New("calculator: division by zero")
				}
				result = a / b
			default:
				return jsonval.EmptyObject(), errors.New("calculator: unknown op")
			}
			return jsonval.Object(map[string]jsonval.Value{
				"result": jsonval.Number(result),
			}), nil
		},
	}
}
