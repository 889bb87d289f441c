package todo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// KeySuffix is appended to an item ID to form its document key.
const KeySuffix = ".json"

// storedDateLayout is the ISO-8601 form dates are written in. Dates are
// stored as midnight UTC.
const storedDateLayout = "2006-01-02T15:04:05.000Z"

// Document is the storage schema of an item. The ID is not part of the
// document; it is carried by the key.
type Document struct {
	ItemText  string `json:"item_text"`
	Completed bool   `json:"completed"`
	Emoji     string `json:"emoji,omitempty"`
	Date      string `json:"date"`
	Time      string `json:"time,omitempty"`
}

// Key returns the document key for an item ID.
func Key(id string) string {
	return id + KeySuffix
}

// IDFromKey returns the item ID for a document key. It reports false for
// keys that are not item documents.
func IDFromKey(key string) (string, bool) {
	if !strings.HasSuffix(key, KeySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(key, KeySuffix)
	if id == "" || strings.ContainsAny(id, "/\\") {
		return "", false
	}
	return id, true
}

// Encode maps an item to its storage document.
func Encode(it Item) Document {
	return Document{
		ItemText:  it.Text,
		Completed: it.Completed,
		Emoji:     it.Emoji,
		Date:      it.Date.Time().Format(storedDateLayout),
		Time:      it.Time,
	}
}

// Decode maps a storage document back to an item. A missing or unparsable
// date falls back to the calendar date of now.
func Decode(id string, doc Document, now time.Time) Item {
	date, ok := decodeDate(doc.Date)
	if !ok {
		date = DateOf(now)
	}
	return Item{
		ID:        id,
		Text:      doc.ItemText,
		Completed: doc.Completed,
		Emoji:     doc.Emoji,
		Date:      date,
		Time:      doc.Time,
	}
}

// Marshal encodes an item to document JSON.
func Marshal(it Item) ([]byte, error) {
	data, err := json.Marshal(Encode(it))
	if err != nil {
		return nil, fmt.Errorf("marshal item %s: %w", it.ID, err)
	}
	return data, nil
}

// Unmarshal decodes document JSON into an item. Unknown fields are ignored.
func Unmarshal(id string, data []byte, now time.Time) (Item, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Item{}, fmt.Errorf("unmarshal item %s: %w", id, err)
	}
	return Decode(id, doc, now), nil
}

func decodeDate(s string) (Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return DateOf(t), true
	}
	if d, err := ParseDate(s); err == nil {
		return d, true
	}
	return Date{}, false
}
