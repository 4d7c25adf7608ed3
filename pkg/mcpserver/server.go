/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const serverVersion = "1.0.0"

type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"memory_search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"memory_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"soulprint_get": {
		def:     soulprintToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSoulprint },
	},
}

var searchToolDef = mcp.NewTool("memory_search",
	mcp.WithDescription("Search the user's long-term conversational memory. Returns ranked memory chunks plus a ready-to-inject context block. Falls back to recent memories when semantic search is unavailable."),
	mcp.WithString("userId",
		mcp.Required(),
		mcp.Description("UUID of the user whose memory to search"),
	),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural language query to search for"),
	),
	mcp.WithNumber("topK",
		mcp.Description("Maximum number of memories to return (server default when omitted)"),
	),
)

var statusToolDef = mcp.NewTool("memory_status",
	mcp.WithDescription("Report the user's memory build status: import stage, embedding progress and whether the memory is ready for retrieval."),
	mcp.WithString("userId",
		mcp.Required(),
		mcp.Description("UUID of the user"),
	),
)

var soulprintToolDef = mcp.NewTool("soulprint_get",
	mcp.WithDescription("Fetch the user's soulprint: a distilled personality and preference profile suitable for a system prompt."),
	mcp.WithString("userId",
		mcp.Required(),
		mcp.Description("UUID of the user"),
	),
)

// AllToolNames returns every registered tool name.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"echomind",
		serverVersion,
		server.WithToolCapabilities(true),
	)

	h := GetHandlers()
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the MCP tools over stdio until the client disconnects.
func Run() error {
	return server.ServeStdio(NewServer())
}
