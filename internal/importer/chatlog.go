package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/merge"
)

// ChatExport is an exported chat transcript: a list of conversations,
// each a flat message sequence.
type ChatExport struct {
	Conversations []Conversation `json:"conversations"`
}

type Conversation struct {
	ID       string    `json:"id,omitempty"`
	Title    string    `json:"title,omitempty"`
	Messages []Message `json:"messages"`
}

type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatLogImporter distills chat transcripts into memories: each useful
// user/assistant exchange becomes one capture, tied to its conversation.
type ChatLogImporter struct {
	dedup *memory.Deduplicator
}

func NewChatLogImporter(dedup *memory.Deduplicator) *ChatLogImporter {
	return &ChatLogImporter{dedup: dedup}
}

// ImportFile loads one transcript export.
func (i *ChatLogImporter) ImportFile(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var export ChatExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	result := &Result{}
	for _, conv := range export.Conversations {
		for _, exchange := range distill(conv) {
			result.Processed++
			saved, err := i.dedup.SaveWithDedup(ctx, exchange)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("conversation %q: %v", conv.Title, err))
				continue
			}
			if saved.Action == merge.CreateNew {
				result.Created++
			} else {
				result.Merged++
			}
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Exchange length gates: trivially short exchanges carry no memory worth
// keeping, and huge pasted answers are noise.
const (
	minQuestionLen = 20
	minAnswerLen   = 80
	maxAnswerLen   = 8000
	answerKeepLen  = 2000
)

// distill walks a conversation and pairs each user message with the
// assistant reply that follows it.
func distill(conv Conversation) []memory.CaptureInput {
	var out []memory.CaptureInput
	var pending string

	for _, msg := range conv.Messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		switch msg.Role {
		case "user":
			pending = text
		case "assistant":
			if pending == "" || !worthKeeping(pending, text) {
				pending = ""
				continue
			}
			out = append(out, memory.CaptureInput{
				Content:        clip(pending, 500) + "\n\n" + clip(text, answerKeepLen),
				Kind:           memory.KindFact,
				Topic:          conv.Title,
				Hashtags:       []string{"imported"},
				ConversationID: conv.ID,
			})
			pending = ""
		}
	}
	return out
}

var greetingPrefixes = []string{"hello", "hi ", "hey", "thanks", "thank you", "bye", "goodbye", "ok", "okay"}

func worthKeeping(question, answer string) bool {
	if len(question) < minQuestionLen || len(answer) < minAnswerLen || len(answer) > maxAnswerLen {
		return false
	}
	lower := strings.ToLower(question)
	for _, p := range greetingPrefixes {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	return true
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
