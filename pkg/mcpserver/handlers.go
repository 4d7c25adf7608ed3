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
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/services"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

type Handlers struct {
	retrieval *services.RetrievalService
	imports   *services.ImportService
	jobs      *services.JobService
}

var (
	handlers     *Handlers
	handlersOnce sync.Once
)

func GetHandlers() *Handlers {
	handlersOnce.Do(func() {
		handlers = &Handlers{
			retrieval: services.GetRetrievalService(),
			imports:   services.GetImportService(),
			jobs:      services.GetJobService(),
		}
	})
	return handlers
}

// decode unmarshals tool call arguments into a typed struct.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return result, nil
}

func parseUserID(raw string) (uuid.UUID, error) {
	userID, err := uuid.Parse(raw)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid userId %q", raw)
	}
	return userID, nil
}

func errorResult(err error) *mcp.CallToolResult {
	var businessErr *customerrors.BusinessError
	if errors.As(err, &businessErr) {
		return mcp.NewToolResultError(businessErr.Message)
	}
	return mcp.NewToolResultError(err.Error())
}

type SearchRequest struct {
	UserID string `json:"userId"`
	Query  string `json:"query"`
	TopK   int    `json:"topK,omitempty"`
}

func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	userID, err := parseUserID(input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.retrieval.Search(ctx, userID, input.Query, input.TopK)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultJSON(result)
}

type StatusRequest struct {
	UserID string `json:"userId"`
}

func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StatusRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	userID, err := parseUserID(input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	status, err := h.imports.MemoryStatus(ctx, userID)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultJSON(status)
}

type SoulprintRequest struct {
	UserID string `json:"userId"`
}

type SoulprintResponse struct {
	Text        string             `json:"text"`
	Structured  stdjson.RawMessage `json:"structured,omitempty"`
	GeneratedAt *time.Time         `json:"generatedAt,omitempty"`
}

func (h *Handlers) HandleSoulprint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SoulprintRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	userID, err := parseUserID(input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	profile, err := h.jobs.GetProfile(ctx, userID)
	if err != nil {
		return errorResult(err), nil
	}
	if !profile.HasSoulprint() {
		return mcp.NewToolResultError("no soulprint yet, import a chat export first"), nil
	}

	return mcp.NewToolResultJSON(&SoulprintResponse{
		Text:        profile.SoulprintText,
		Structured:  stdjson.RawMessage(profile.Soulprint),
		GeneratedAt: profile.SoulprintGeneratedAt,
	})
}
