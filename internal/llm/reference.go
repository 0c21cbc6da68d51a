package llm

import (
	"context"
	"fmt"
	"regexp"
)

var taskLine = regexp.MustCompile(`(?m)^Task:\s*([a-z0-9_]+)\s*$`)

// ReferenceClient is an offline backend. It answers any prompt carrying a
// "Task: <name>" line with a candidate that delegates to the vetted
// reference strategy for that task.
type ReferenceClient struct{}

// NewReferenceClient creates the offline backend.
func NewReferenceClient() *ReferenceClient {
	return &ReferenceClient{}
}

// Complete implements Client.
func (c *ReferenceClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem implements Client.
func (c *ReferenceClient) CompleteWithSystem(ctx context.Context, _, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m := taskLine.FindStringSubmatch(userPrompt)
	if m == nil {
		return "", fmt.Errorf("reference backend: prompt names no task")
	}
	return fmt.Sprintf(referenceTemplate, m[1], m[1]), nil
}

const referenceTemplate = "```go\n" + `// Reference candidate for %s.
package main

import "backforge/kb"

func RunStrategy(prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error) {
	return kb.RunReference(%q, prices, spec)
}
` + "```\n"
