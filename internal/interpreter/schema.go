package interpreter

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/colonyops/daybook/internal/core/action"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://daybook.local/schemas/actions.json"

//go:embed actions.schema.json
var schemaText string

// Schema returns the JSON Schema every model answer must satisfy.
func Schema() string {
	return schemaText
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaText))
	if err != nil {
		return nil, fmt.Errorf("parse action schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add action schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	return sch, nil
}

// wireAction is the union of every action's JSON fields.
type wireAction struct {
	Type      string  `json:"type"`
	Text      *string `json:"text"`
	Emoji     *string `json:"emoji"`
	Date      *string `json:"date"`
	Time      *string `json:"time"`
	Ref       string  `json:"ref"`
	ItemID    string  `json:"item_id"`
	State     string  `json:"state"`
	Completed *bool   `json:"completed"`
	Order     string  `json:"order"`
	Scope     string  `json:"scope"`
}

type wireResponse struct {
	Actions []wireAction `json:"actions"`
}

// decode validates content against the schema and converts it to actions.
func (l *LLM) decode(content, defaultEmoji string) ([]action.Action, error) {
	content = stripFences(content)

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("response is not json: %w", err)
	}
	if err := l.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("response does not match schema: %w", err)
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]action.Action, 0, len(resp.Actions))
	for i, w := range resp.Actions {
		a, err := w.toAction(defaultEmoji)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (w wireAction) toAction(defaultEmoji string) (action.Action, error) {
	switch action.Kind(w.Type) {
	case action.KindAdd:
		a := action.Add{Ref: w.Ref, Emoji: defaultEmoji}
		if w.Text != nil {
			a.Text = strings.TrimSpace(*w.Text)
		}
		if w.Emoji != nil && *w.Emoji != "" {
			a.Emoji = *w.Emoji
		}
		if w.Time != nil {
			a.Time = *w.Time
		}
		if w.Date != nil {
			d, err := todo.ParseDate(*w.Date)
			if err != nil {
				return nil, err
			}
			a.Date = d
		}
		return a, nil

	case action.KindDelete:
		return action.Delete{ItemID: w.ItemID}, nil

	case action.KindMark:
		st, err := action.ParseMarkState(w.State)
		if err != nil {
			return nil, err
		}
		return action.Mark{ItemID: w.ItemID, State: st}, nil

	case action.KindEdit:
		e := action.Edit{
			ItemID:    w.ItemID,
			Text:      w.Text,
			Emoji:     w.Emoji,
			Time:      w.Time,
			Completed: w.Completed,
		}
		if w.Date != nil {
			d, err := todo.ParseDate(*w.Date)
			if err != nil {
				return nil, err
			}
			e.Date = &d
		}
		return e, nil

	case action.KindSort:
		order := todo.SortOrder(w.Order)
		if !order.IsValid() {
			return nil, fmt.Errorf("unknown sort order %q", w.Order)
		}
		return action.Sort{Order: order}, nil

	case action.KindClear:
		sc, err := action.ParseScope(w.Scope)
		if err != nil {
			return nil, err
		}
		return action.Clear{Scope: sc}, nil

	default:
		return nil, fmt.Errorf("unknown action type %q", w.Type)
	}
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
