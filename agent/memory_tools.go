package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/tool"
)

var (
	updateBlockSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"block": {"type": "string", "description": "Name of the core memory block to update"},
			"key": {"type": "string"},
			"value": {"type": "string"}
		},
		"required": ["block", "key", "value"]
	}`)

	archiveSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "Fact to store in archival memory"}
		},
		"required": ["content"]
	}`)

	searchSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1}
		},
		"required": ["query"]
	}`)
)

// memoryTools returns the built-in tool set bound to one session's core
// memory, archival store, and history — the memory tools spec.md §4.1
// step 3 unions into the base tool set when IncludeMemoryTools is set.
func memoryTools(sessionID string, mem memory.Memory) []*tool.Tool {
	return []*tool.Tool{
		tool.New("core_memory_update", "Update a single key in a named core memory block.", updateBlockSchema,
			func(ctx context.Context, args map[string]any) tool.Result {
				block, _ := args["block"].(string)
				key, _ := args["key"].(string)
				value, _ := args["value"].(string)
				if err := mem.UpdateBlock(block, key, value); err != nil {
					return tool.FailureResult(err.Error())
				}
				return tool.SuccessResult(fmt.Sprintf("updated %s.%s", block, key), nil)
			}),

		tool.New("archival_insert", "Insert a fact into append-only archival memory.", archiveSchema,
			func(ctx context.Context, args map[string]any) tool.Result {
				content, _ := args["content"].(string)
				entry := mem.Archive(content, nil)
				return tool.SuccessResult("archived "+entry.ID, entry)
			}),

		tool.New("archival_search", "Search archival memory for a substring.", searchSchema,
			func(ctx context.Context, args map[string]any) tool.Result {
				query, _ := args["query"].(string)
				entries := mem.SearchArchive(query, searchLimit(args))
				return tool.SuccessResult(fmt.Sprintf("%d result(s)", len(entries)), entries)
			}),

		tool.New("conversation_search", "Search this session's conversation history for a substring.", searchSchema,
			func(ctx context.Context, args map[string]any) tool.Result {
				query, _ := args["query"].(string)
				messages := mem.SearchHistory(sessionID, query, searchLimit(args))
				return tool.SuccessResult(fmt.Sprintf("%d result(s)", len(messages)), messages)
			}),
	}
}

func searchLimit(args map[string]any) int {
	if v, ok := args["limit"].(float64); ok && v > 0 {
		return int(v)
	}
	return 10
}
