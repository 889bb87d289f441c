package interpreter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/tmc/langchaingo/llms"
)

const systemPrompt = `You turn one todo-list utterance into structured actions.

Today is %s (%s) in the time zone %s. The current local time is %s.

Answer with a single JSON object {"actions": [...]} and nothing else. Each
action is one of:
  {"type":"add","text":"...","emoji":"...","date":"YYYY-MM-DD","time":"HH:mm","ref":"..."}
  {"type":"delete","item_id":"..."}
  {"type":"mark","item_id":"...","state":"complete|incomplete|toggle"}
  {"type":"edit","item_id":"...","text":"...","emoji":"...","date":"YYYY-MM-DD","time":"HH:mm","completed":true}
  {"type":"sort","order":"newest|oldest|alphabetical|completed"}
  {"type":"clear","scope":"all|completed|incomplete"}
Optional fields may be left out. Actions run in the order you list them.

Rules:
- Only reference items by the "id" values in the visible items list. Never
  invent an id and never match by guessing at text outside that list.
- To act on an item you are adding in the same answer, give the add a "ref"
  label and use that label as the item_id of the later action.
- Resolve relative dates against today: "today", "tomorrow", "next monday",
  "in 3 days", weekday names. Leave "date" out when the user names no day.
- Times are 24-hour HH:mm. "3pm" is "15:00"; "9" on its own is "09:00".
- Read the tense. "buy milk" adds an incomplete item. "bought milk" or
  "done with milk" marks the matching visible item complete; when nothing
  visible matches, add it and mark it complete.
- Pick a fitting single emoji for new items when one is obvious.
- When the utterance asks for nothing you can express, answer {"actions": []}.

Visible items for the active day:
%s`

type visibleItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Date      string `json:"date"`
	Time      string `json:"time,omitempty"`
}

func buildMessages(text string, visible []todo.Item, now time.Time, zone string) ([]llms.MessageContent, error) {
	items := make([]visibleItem, 0, len(visible))
	for _, it := range visible {
		items = append(items, visibleItem{
			ID:        it.ID,
			Text:      it.Text,
			Completed: it.Completed,
			Date:      it.Date.String(),
			Time:      it.Time,
		})
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal visible items: %w", err)
	}

	prompt := fmt.Sprintf(systemPrompt,
		todo.DateOf(now).String(),
		now.Weekday().String(),
		zone,
		now.Format("15:04"),
		string(data),
	)

	return []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(strings.TrimSpace(prompt))},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(text)},
		},
	}, nil
}
