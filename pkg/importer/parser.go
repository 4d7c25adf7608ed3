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

package importer

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
)

// Export format: an array of conversation objects, each holding a
// mapping of message nodes forming a tree. Branches appear when the
// user edited or regenerated a message; current_node marks the leaf of
// the active branch.

type ExportMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		ContentType string `json:"content_type"`
		Parts       []any  `json:"parts"`
		Text        string `json:"text"`
	} `json:"content"`
	CreateTime *float64 `json:"create_time"`
}

type ExportNode struct {
	ID       string         `json:"id"`
	Message  *ExportMessage `json:"message"`
	Parent   *string        `json:"parent"`
	Children []string       `json:"children"`
}

type ExportConversation struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	CreateTime  float64               `json:"create_time"`
	UpdateTime  float64               `json:"update_time"`
	Mapping     map[string]ExportNode `json:"mapping"`
	CurrentNode string                `json:"current_node"`
}

// Message is one user or assistant turn on the active branch.
type Message struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time
}

// Conversation is one linearized conversation from the export.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

// Parser turns a raw export stream into conversations. Malformed
// entries are skipped with a warning, never fatal: one broken
// conversation must not sink a multi-thousand-conversation import.
type Parser struct {
	skipped int
}

func NewParser() *Parser {
	return &Parser{}
}

// Skipped returns how many conversations were dropped as malformed
// during the last Conversations iteration.
func (p *Parser) Skipped() int {
	return p.skipped
}

// Conversations lazily decodes the export array. The element framing
// uses the stdlib streaming decoder (sonic has no token-level API);
// each conversation object is decoded with sonic. Exports run to
// hundreds of megabytes, so the full array is never held in memory.
func (p *Parser) Conversations(ctx context.Context, r io.Reader) iter.Seq[Conversation] {
	p.skipped = 0
	return func(yield func(Conversation) bool) {
		dec := stdjson.NewDecoder(r)

		tok, err := dec.Token()
		if err != nil {
			slog.WarnContext(ctx, "export is not valid JSON", "error", err)
			return
		}
		if delim, ok := tok.(stdjson.Delim); !ok || delim != '[' {
			slog.WarnContext(ctx, "export does not start with a conversation array")
			return
		}

		for dec.More() {
			if ctx.Err() != nil {
				return
			}

			var raw stdjson.RawMessage
			if err := dec.Decode(&raw); err != nil {
				slog.WarnContext(ctx, "failed to read export element, stopping", "error", err)
				return
			}

			conv, err := p.parseOne(raw)
			if err != nil {
				p.skipped++
				slog.WarnContext(ctx, "skipping malformed conversation", "error", err)
				continue
			}
			if len(conv.Messages) == 0 {
				continue
			}

			if !yield(conv) {
				return
			}
		}
	}
}

func (p *Parser) parseOne(raw []byte) (Conversation, error) {
	var ec ExportConversation
	if err := json.Unmarshal(raw, &ec); err != nil {
		return Conversation{}, fmt.Errorf("failed to decode conversation: %w", err)
	}
	if ec.ID == "" {
		return Conversation{}, fmt.Errorf("conversation has no id")
	}
	if len(ec.Mapping) == 0 {
		return Conversation{}, fmt.Errorf("conversation %s has an empty mapping", ec.ID)
	}

	title := ec.Title
	if title == "" {
		title = "Untitled"
	}

	return Conversation{
		ID:        ec.ID,
		Title:     title,
		CreatedAt: time.Unix(int64(ec.CreateTime), 0).UTC(),
		UpdatedAt: time.Unix(int64(ec.UpdateTime), 0).UTC(),
		Messages:  linearize(ec),
	}, nil
}

// linearize picks ONE path through the message tree: from the root,
// follow the child on the current_node ancestor path when there is a
// branch, otherwise the first child. Edited and regenerated siblings
// are never enumerated twice.
func linearize(ec ExportConversation) []Message {
	var rootID string
	for id, node := range ec.Mapping {
		if node.Parent == nil {
			rootID = id
			break
		}
		if _, ok := ec.Mapping[*node.Parent]; !ok {
			rootID = id
			break
		}
	}
	if rootID == "" {
		return nil
	}

	activePath := make(map[string]struct{})
	nodeID := ec.CurrentNode
	for nodeID != "" {
		node, ok := ec.Mapping[nodeID]
		if !ok {
			break
		}
		activePath[nodeID] = struct{}{}
		if node.Parent == nil {
			break
		}
		nodeID = *node.Parent
	}

	var messages []Message
	// visited guards against mapping cycles in corrupted exports.
	visited := make(map[string]struct{})
	current := rootID
	for current != "" {
		if _, seen := visited[current]; seen {
			break
		}
		visited[current] = struct{}{}

		node, ok := ec.Mapping[current]
		if !ok {
			break
		}

		if msg := toMessage(node.Message); msg != nil {
			messages = append(messages, *msg)
		}

		if len(node.Children) == 0 {
			break
		}
		next := node.Children[0]
		for _, child := range node.Children {
			if _, onPath := activePath[child]; onPath {
				next = child
				break
			}
		}
		current = next
	}

	return messages
}

func toMessage(em *ExportMessage) *Message {
	if em == nil {
		return nil
	}

	role := em.Author.Role
	if role != "user" && role != "assistant" {
		return nil
	}

	content := extractContent(em)
	if content == "" {
		return nil
	}

	msg := &Message{
		ID:      em.ID,
		Role:    role,
		Content: content,
	}
	if em.CreateTime != nil {
		msg.Timestamp = time.Unix(int64(*em.CreateTime), 0).UTC()
	}
	return msg
}

func extractContent(em *ExportMessage) string {
	if em.Content.Text != "" {
		return strings.TrimSpace(em.Content.Text)
	}

	var parts []string
	for _, part := range em.Content.Parts {
		// Non-string parts (images, attachments) are dropped.
		if s, ok := part.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
