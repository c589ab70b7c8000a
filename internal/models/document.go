package models

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Extra holds metadata keys that have no typed field. They are written back unchanged.
type Extra map[string]json.RawMessage

// knownKeys lists the json names of a struct's tagged fields.
func knownKeys(v any) map[string]struct{} {
	t := reflect.TypeOf(v)
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name := strings.Split(tag, ",")[0]
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}

// splitExtra decodes data into typed (a pointer to an alias struct) and returns the keys typed does not declare.
func splitExtra(data []byte, typed any, known map[string]struct{}) (Extra, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(data, typed); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	var extra Extra
	for k, v := range all {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(Extra)
		}
		extra[k] = v
	}
	return extra, nil
}

// joinExtra marshals typed and merges the residual keys back in. Typed fields win on collision.
func joinExtra(typed any, extra Extra) ([]byte, error) {
	base, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// String reads a string stored under a residual key.
func (e Extra) String(key string) string {
	raw, ok := e[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Bool reads a residual flag. Strings "1", "true", "yes" count as set.
func (e Extra) Bool(key string) bool {
	raw, ok := e[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	switch strings.ToLower(e.String(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Answers is a raw answer mapping keyed by field key.
type Answers map[string]any

// AnswerRow is one captured answer enriched with its question label.
type AnswerRow struct {
	Key      string `json:"key"`
	Question string `json:"question"`
	Answer   any    `json:"answer"`
}

// RowsToAnswers turns enriched rows back into a raw mapping.
func RowsToAnswers(rows []AnswerRow) Answers {
	if len(rows) == 0 {
		return nil
	}
	out := make(Answers, len(rows))
	for _, r := range rows {
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Answer
	}
	return out
}

// Clone returns a shallow copy.
func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
