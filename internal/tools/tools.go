// Package tools provides the gateway's built-in tools and resources.
package tools

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/workway/mcp-gateway/internal/mcp"
)

const maxTextLength = 100_000

// Builtin returns the built-in tools.
func Builtin() []*mcp.Tool {
	return []*mcp.Tool{Echo(), TextStats()}
}

// Echo returns its message, optionally upper-cased.
func Echo() *mcp.Tool {
	message := openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(maxTextLength)
	message.Description = "Text to echo back"
	upper := openapi3.NewBoolSchema()
	upper.Description = "Upper-case the message"

	input := openapi3.NewObjectSchema().
		WithProperty("message", message).
		WithProperty("uppercase", upper)
	input.Required = []string{"message"}

	output := openapi3.NewObjectSchema().WithProperty("message", openapi3.NewStringSchema())

	return &mcp.Tool{
		Name:         "echo",
		Description:  "Echo a message back to the caller. Useful for connectivity checks.",
		InputSchema:  input,
		OutputSchema: output,
		Execute: func(_ context.Context, args map[string]any, _ *mcp.Env) (*mcp.ToolResult, error) {
			msg, _ := args["message"].(string)
			if up, _ := args["uppercase"].(bool); up {
				msg = strings.ToUpper(msg)
			}
			return mcp.OK(map[string]any{"message": msg}), nil
		},
	}
}

// TextStats counts characters, words, and lines of a text.
func TextStats() *mcp.Tool {
	text := openapi3.NewStringSchema().WithMaxLength(maxTextLength)
	text.Description = "Text to analyse"

	input := openapi3.NewObjectSchema().WithProperty("text", text)
	input.Required = []string{"text"}

	output := openapi3.NewObjectSchema().
		WithProperty("characters", openapi3.NewIntegerSchema()).
		WithProperty("words", openapi3.NewIntegerSchema()).
		WithProperty("lines", openapi3.NewIntegerSchema())

	return &mcp.Tool{
		Name:         "text_stats",
		Description:  "Count characters, words and lines in a piece of text.",
		InputSchema:  input,
		OutputSchema: output,
		Execute: func(_ context.Context, args map[string]any, _ *mcp.Env) (*mcp.ToolResult, error) {
			s, _ := args["text"].(string)
			if strings.TrimSpace(s) == "" {
				return mcp.Fail("text is blank"), nil
			}
			return mcp.OK(countText(s)), nil
		},
	}
}

// Stats is the text_stats result.
type Stats struct {
	Characters int `json:"characters"`
	Words      int `json:"words"`
	Lines      int `json:"lines"`
}

func countText(s string) Stats {
	return Stats{
		Characters: utf8.RuneCountInString(s),
		Words:      len(strings.FieldsFunc(s, unicode.IsSpace)),
		Lines:      strings.Count(s, "\n") + 1,
	}
}
