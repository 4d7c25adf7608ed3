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
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/utils"
)

// chunkOverflowFactor allows a chunk to run slightly past the cap so a
// message landing near the boundary does not force a near-empty
// successor chunk.
const chunkOverflowFactor = 1.2

// headerTitleMaxChars caps the title rendered into the context header.
// Titles are user-supplied and can be arbitrarily long; an uncapped
// title could swallow the whole chunk budget.
const headerTitleMaxChars = 120

// Chunk is one embedding-ready slice of a conversation. ChunkIndex
// starts at zero within each conversation; chunks never span two
// conversations.
type Chunk struct {
	ConversationID string
	ChunkIndex     int
	Title          string
	Content        string
	MessageCount   int
	IsRecent       bool
	CreatedAt      time.Time
}

// Chunker splits conversations into bounded-size chunks. Messages are
// concatenated in order and flushed when the accumulated content would
// exceed the cap; a single message is never split across two chunks. A
// lone message longer than the cap is truncated instead.
type Chunker struct {
	maxChars      int
	recencyWindow time.Duration

	// now is injectable for tests.
	now func() time.Time
}

func NewChunker(cfg *config.ImporterConfig) *Chunker {
	return &Chunker{
		maxChars:      cfg.ChunkMaxChars,
		recencyWindow: time.Duration(cfg.RecencyWindowDays) * 24 * time.Hour,
		now:           time.Now,
	}
}

// Chunks lazily maps a conversation sequence to a chunk sequence. The
// result is restartable: iterating again re-runs the pipeline from the
// source without buffering chunked output.
func (c *Chunker) Chunks(conversations iter.Seq[Conversation]) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		recentCutoff := c.now().Add(-c.recencyWindow)

		for conv := range conversations {
			for chunk := range c.chunkOne(conv) {
				chunk.IsRecent = conv.CreatedAt.After(recentCutoff)
				if !yield(chunk) {
					return
				}
			}
		}
	}
}

func (c *Chunker) chunkOne(conv Conversation) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		header := contextHeader(conv)
		limit := int(float64(c.maxChars) * chunkOverflowFactor)
		// The per-message budget stays positive even when the header
		// alone exceeds a tiny configured cap.
		budget := max(limit-len(header), 1)

		var builder strings.Builder
		builder.WriteString(header)

		index := 0
		messageCount := 0

		flush := func() bool {
			if messageCount == 0 {
				return true
			}
			chunk := Chunk{
				ConversationID: conv.ID,
				ChunkIndex:     index,
				Title:          conv.Title,
				Content:        builder.String(),
				MessageCount:   messageCount,
				CreatedAt:      conv.CreatedAt,
			}
			index++
			messageCount = 0
			builder.Reset()
			builder.WriteString(header)
			return yield(chunk)
		}

		for _, msg := range conv.Messages {
			formatted := formatMessage(msg)
			if len(formatted) > budget {
				formatted = utils.TruncateUTF8(formatted, budget)
			}

			if messageCount > 0 && builder.Len()+len(formatted) > limit {
				if !flush() {
					return
				}
			}

			if messageCount > 0 {
				builder.WriteString("\n\n")
			}
			builder.WriteString(formatted)
			messageCount++
		}

		flush()
	}
}

func contextHeader(conv Conversation) string {
	title := utils.TruncateUTF8(conv.Title, headerTitleMaxChars)
	return fmt.Sprintf("[Conversation: %s]\n[Date: %s]\n\n", title, conv.CreatedAt.Format("2006-01-02"))
}

func formatMessage(msg Message) string {
	label := "Assistant"
	if msg.Role == "user" {
		label = "Human"
	}
	return label + ": " + msg.Content
}

// EstimateChars sums formatted message lengths for a conversation,
// used for quick-pass sampling budgets.
func EstimateChars(conv Conversation) int {
	total := 0
	for _, msg := range conv.Messages {
		total += len(msg.Content)
	}
	return total
}
