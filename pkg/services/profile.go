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

package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/anthropics/anthropic-sdk-go"
	json "github.com/bytedance/sonic"
	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/conn"
	"github.com/echomind/echomind/pkg/consts"
	"github.com/echomind/echomind/pkg/importer"
	"github.com/echomind/echomind/pkg/utils"
	"github.com/samber/lo"
)

// Soulprint is the structured profile extracted from a user's own
// messages during the quick pass.
type Soulprint struct {
	Identity      map[string]string       `json:"identity,omitempty"`
	Professional  *SoulprintProfessional  `json:"professional,omitempty"`
	Relationships []SoulprintRelationship `json:"relationships,omitempty"`
	Interests     *SoulprintInterests     `json:"interests,omitempty"`
	Communication *SoulprintCommunication `json:"communication,omitempty"`
	Preferences   *SoulprintPreferences   `json:"preferences,omitempty"`
	Goals         *SoulprintGoals         `json:"goals,omitempty"`
	Traits        []string                `json:"traits,omitempty"`
}

type SoulprintProfessional struct {
	CurrentJob string   `json:"currentJob,omitempty"`
	Company    string   `json:"company,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	Industry   string   `json:"industry,omitempty"`
	Goals      []string `json:"goals,omitempty"`
}

type SoulprintRelationship struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Details string `json:"details,omitempty"`
}

type SoulprintInterests struct {
	Hobbies       []string `json:"hobbies,omitempty"`
	Entertainment []string `json:"entertainment,omitempty"`
	Travel        []string `json:"travel,omitempty"`
}

type SoulprintCommunication struct {
	Formality  string `json:"formality,omitempty"`
	EmojiUsage string `json:"emojiUsage,omitempty"`
	Verbosity  string `json:"verbosity,omitempty"`
	HumorStyle string `json:"humorStyle,omitempty"`
}

type SoulprintPreferences struct {
	General      []string `json:"general,omitempty"`
	MorningNight string   `json:"morningNight,omitempty"`
}

type SoulprintGoals struct {
	ShortTerm       []string `json:"shortTerm,omitempty"`
	LongTerm        []string `json:"longTerm,omitempty"`
	CurrentProjects []string `json:"currentProjects,omitempty"`
}

// ProfileService generates the soulprint. Model extraction when an API
// key is configured, heuristic analysis otherwise; the heuristic path
// also catches every model failure, so soulprint generation itself
// never fails an import.
type ProfileService struct {
	cfg *config.ProfileConfig
}

var (
	profileService     *ProfileService
	profileServiceOnce sync.Once
)

func GetProfileService() *ProfileService {
	profileServiceOnce.Do(func() {
		profileService = &ProfileService{
			cfg: config.GetConfigManager().GetConfig().Profile,
		}
	})
	return profileService
}

func NewProfileService(cfg *config.ProfileConfig) *ProfileService {
	return &ProfileService{cfg: cfg}
}

func (s *ProfileService) IsEnabled() bool {
	return s.cfg != nil && s.cfg.APIKey != ""
}

// GenerateSoulprint produces the structured soulprint and its text
// rendering from a strategic sample of conversations.
func (s *ProfileService) GenerateSoulprint(ctx context.Context, conversations []importer.Conversation) (*Soulprint, string) {
	sample := sampleConversations(conversations)
	body := buildPromptBody(sample)

	var soulprint *Soulprint
	if s.IsEnabled() && body != "" {
		extracted, err := s.extractWithModel(ctx, body)
		if err != nil {
			slog.WarnContext(ctx, "model extraction failed, using heuristic soulprint", "error", err)
		} else {
			soulprint = extracted
		}
	}
	if soulprint == nil {
		soulprint = heuristicSoulprint(sample)
	}

	return soulprint, renderSoulprintText(soulprint)
}

func (s *ProfileService) extractWithModel(ctx context.Context, body string) (*Soulprint, error) {
	client := conn.GetAnthropicClient(s.cfg.BaseURL, s.cfg.APIKey)

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: int64(s.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(consts.SoulprintExtractionPrompt + body)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("soulprint extraction call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return parseSoulprintJSON(text)
}

// parseSoulprintJSON tolerates models that wrap the JSON in prose or
// markdown fences: it decodes the outermost brace-delimited object.
func parseSoulprintJSON(text string) (*Soulprint, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var soulprint Soulprint
	if err := json.Unmarshal([]byte(text[start:end+1]), &soulprint); err != nil {
		return nil, fmt.Errorf("failed to decode soulprint JSON: %w", err)
	}
	return &soulprint, nil
}

// sampleConversations picks a strategic sample: the most recent, the
// oldest, and the longest conversations, deduplicated, capped. Recency
// dominates because current facts matter more than stale ones.
func sampleConversations(conversations []importer.Conversation) []importer.Conversation {
	if len(conversations) <= consts.QuickPassSampleCap {
		return conversations
	}

	byDate := make([]importer.Conversation, len(conversations))
	copy(byDate, conversations)
	sort.Slice(byDate, func(i, j int) bool {
		return byDate[i].UpdatedAt.After(byDate[j].UpdatedAt)
	})

	byLength := make([]importer.Conversation, len(conversations))
	copy(byLength, conversations)
	sort.Slice(byLength, func(i, j int) bool {
		return len(byLength[i].Messages) > len(byLength[j].Messages)
	})

	seen := make(map[string]struct{})
	sample := make([]importer.Conversation, 0, consts.QuickPassSampleCap)
	add := func(convs []importer.Conversation, limit int) {
		for _, conv := range convs[:min(limit, len(convs))] {
			if _, ok := seen[conv.ID]; ok {
				continue
			}
			if len(sample) >= consts.QuickPassSampleCap {
				return
			}
			seen[conv.ID] = struct{}{}
			sample = append(sample, conv)
		}
	}

	add(byDate, consts.QuickPassRecentSample)
	add(byDate[max(0, len(byDate)-consts.QuickPassOldestSample):], consts.QuickPassOldestSample)
	add(byLength, consts.QuickPassLongestSample)
	return sample
}

// buildPromptBody assembles user-message snippets grouped by
// conversation title, within the prompt character budget. Assistant
// messages are excluded: the soulprint describes the user, not the
// model they talked to.
func buildPromptBody(conversations []importer.Conversation) string {
	var builder strings.Builder

	for _, conv := range conversations {
		if builder.Len() >= consts.QuickPassPromptBudgetChars {
			break
		}

		userMessages := lo.Filter(conv.Messages, func(m importer.Message, _ int) bool {
			return m.Role == "user"
		})
		if len(userMessages) == 0 {
			continue
		}
		if len(userMessages) > consts.QuickPassMessagesPerConversation {
			userMessages = userMessages[:consts.QuickPassMessagesPerConversation]
		}

		builder.WriteString("### ")
		builder.WriteString(conv.Title)
		builder.WriteString("\n")
		for _, msg := range userMessages {
			content := utils.TruncateUTF8(msg.Content, consts.QuickPassSnippetChars)
			builder.WriteString(content)
			builder.WriteString("\n")
		}
		builder.WriteString("\n---\n\n")
	}

	return builder.String()
}

// heuristicSoulprint derives communication style and interests from
// message statistics alone. Deliberately coarse: it exists so the quick
// pass always produces something.
func heuristicSoulprint(conversations []importer.Conversation) *Soulprint {
	var userMessages []string
	for _, conv := range conversations {
		for _, msg := range conv.Messages {
			if msg.Role == "user" {
				userMessages = append(userMessages, msg.Content)
			}
		}
	}

	return &Soulprint{
		Communication: analyzeCommunication(userMessages),
		Interests:     &SoulprintInterests{Hobbies: detectInterests(userMessages)},
	}
}

var formalIndicators = []string{"please", "thank you", "would you", "could you", "kindly"}

var casualIndicators = []string{"hey", "yo", "gonna", "wanna", "lol", "lmao", "haha"}

func analyzeCommunication(messages []string) *SoulprintCommunication {
	if len(messages) == 0 {
		return &SoulprintCommunication{Formality: "balanced", EmojiUsage: "none", Verbosity: "balanced"}
	}

	var totalLen, emojiCount int
	for _, m := range messages {
		totalLen += len(m)
		for _, r := range m {
			if unicode.In(r, unicode.So) || (r >= 0x1F300 && r <= 0x1FAFF) {
				emojiCount++
			}
		}
	}
	avgLen := totalLen / len(messages)
	emojiRatio := float64(emojiCount) / float64(len(messages))

	combined := strings.ToLower(strings.Join(messages, " "))
	formalScore := lo.CountBy(formalIndicators, func(s string) bool { return strings.Contains(combined, s) })
	casualScore := lo.CountBy(casualIndicators, func(s string) bool { return strings.Contains(combined, s) })

	comm := &SoulprintCommunication{Formality: "balanced", EmojiUsage: "none", Verbosity: "balanced"}
	switch {
	case formalScore > casualScore+2:
		comm.Formality = "formal"
	case casualScore > formalScore+2:
		comm.Formality = "casual"
	}
	switch {
	case avgLen > 200:
		comm.Verbosity = "verbose"
	case avgLen < 50:
		comm.Verbosity = "concise"
	}
	switch {
	case emojiRatio > 0.5:
		comm.EmojiUsage = "heavy"
	case emojiRatio > 0.1:
		comm.EmojiUsage = "light"
	}
	return comm
}

var topicKeywords = map[string][]string{
	"technology":   {"code", "programming", "software", "api", "database"},
	"business":     {"startup", "revenue", "market", "product", "customers"},
	"design":       {"design", "ui", "ux", "layout", "figma"},
	"writing":      {"writing", "blog", "article", "story"},
	"fitness":      {"workout", "gym", "exercise", "running"},
	"music":        {"music", "song", "album", "playlist"},
	"travel":       {"travel", "trip", "flight", "vacation"},
	"food":         {"recipe", "cooking", "restaurant"},
	"ai":           {"ai", "llm", "machine learning", "neural"},
	"finance":      {"invest", "stock", "crypto", "budget"},
	"gaming":       {"game", "gaming", "steam", "console"},
	"reading":      {"book", "reading", "novel", "author"},
	"productivity": {"productivity", "notion", "todo", "workflow"},
}

func detectInterests(messages []string) []string {
	combined := strings.ToLower(strings.Join(messages, " "))

	type scoredTopic struct {
		topic string
		score int
	}
	var scored []scoredTopic
	for topic, keywords := range topicKeywords {
		score := 0
		for _, kw := range keywords {
			score += strings.Count(combined, kw)
		}
		if score > 2 {
			scored = append(scored, scoredTopic{topic: topic, score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].topic < scored[j].topic
	})
	if len(scored) > 8 {
		scored = scored[:8]
	}
	return lo.Map(scored, func(s scoredTopic, _ int) string { return s.topic })
}

// renderSoulprintText produces the human-readable rendering stored next
// to the structured JSON.
func renderSoulprintText(sp *Soulprint) string {
	var sections []string

	if name := sp.Identity["name"]; name != "" {
		sections = append(sections, "# "+name)
	}
	if len(sp.Traits) > 0 {
		sections = append(sections, "Traits: "+strings.Join(sp.Traits, ", "))
	}
	if sp.Professional != nil && sp.Professional.CurrentJob != "" {
		line := "Works as " + sp.Professional.CurrentJob
		if sp.Professional.Company != "" {
			line += " at " + sp.Professional.Company
		}
		sections = append(sections, line)
	}
	if sp.Interests != nil && len(sp.Interests.Hobbies) > 0 {
		sections = append(sections, "Interests: "+strings.Join(sp.Interests.Hobbies, ", "))
	}
	if sp.Communication != nil {
		sections = append(sections, fmt.Sprintf("Communication: %s, %s, emoji %s",
			sp.Communication.Formality, sp.Communication.Verbosity, sp.Communication.EmojiUsage))
	}
	if sp.Goals != nil && len(sp.Goals.CurrentProjects) > 0 {
		sections = append(sections, "Current projects: "+strings.Join(sp.Goals.CurrentProjects, ", "))
	}
	if len(sp.Relationships) > 0 {
		names := lo.Map(sp.Relationships, func(r SoulprintRelationship, _ int) string {
			return r.Name + " (" + r.Role + ")"
		})
		sections = append(sections, "People: "+strings.Join(names, ", "))
	}

	return strings.Join(sections, "\n")
}
