package forms

import (
	"encoding/json"
	"fmt"
)

type NodeKind string

const (
	KindSection NodeKind = "section"
	KindField   NodeKind = "field"
)

// childKeys are the container keys a section may nest its children under, in read order.
var childKeys = []string{"children", "sections", "fields", "columns"}

// Schema is the question tree of a clinic form template.
type Schema struct {
	Nodes []Node
}

// Node is either a Section (Children set) or a Field (Key/Type set).
type Node struct {
	Kind NodeKind

	Title    string
	Children []Node

	Type       string
	Key        string
	Label      string
	Validation []string
	Visibility *Predicate
	Options    []Option
}

// Predicate decides whether a field is shown, based on another field's answer.
type Predicate struct {
	Field    string `json:"field"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`
}

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var list []Node
	if err := json.Unmarshal(data, &list); err == nil {
		s.Nodes = list
		return nil
	}
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if root.Kind == KindSection && root.Title == "" {
		s.Nodes = root.Children
		return nil
	}
	s.Nodes = []Node{root}
	return nil
}

func (s Schema) MarshalJSON() ([]byte, error) {
	if s.Nodes == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Nodes)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("schema node: %w", err)
	}

	kind := stringField(raw, "kind")
	isSection := kind == string(KindSection)
	for _, key := range childKeys {
		if _, ok := raw[key]; ok {
			isSection = true
		}
	}
	if kind == string(KindField) {
		isSection = false
	}

	*n = Node{}
	if isSection {
		n.Kind = KindSection
		n.Title = firstString(raw, "title", "label", "heading")
		for _, key := range childKeys {
			body, ok := raw[key]
			if !ok {
				continue
			}
			var children []Node
			if err := json.Unmarshal(body, &children); err != nil {
				return fmt.Errorf("schema section %q %s: %w", n.Title, key, err)
			}
			n.Children = append(n.Children, children...)
		}
		return nil
	}

	n.Kind = KindField
	n.Type = stringField(raw, "type")
	n.Key = firstString(raw, "key", "name", "id")
	n.Label = firstString(raw, "label", "question", "title")
	if body, ok := raw["validation"]; ok {
		n.Validation = decodeRules(body)
	} else if body, ok := raw["rules"]; ok {
		n.Validation = decodeRules(body)
	}
	for _, key := range []string{"visibility", "visible_if", "show_if"} {
		body, ok := raw[key]
		if !ok {
			continue
		}
		var p Predicate
		if err := json.Unmarshal(body, &p); err == nil && p.Field != "" {
			n.Visibility = &p
			break
		}
	}
	if body, ok := raw["options"]; ok {
		n.Options = decodeOptions(body)
	}
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	if n.Kind == KindSection {
		children := n.Children
		if children == nil {
			children = []Node{}
		}
		return json.Marshal(struct {
			Kind     NodeKind `json:"kind"`
			Title    string   `json:"title,omitempty"`
			Children []Node   `json:"children"`
		}{KindSection, n.Title, children})
	}
	return json.Marshal(struct {
		Kind       NodeKind   `json:"kind"`
		Type       string     `json:"type,omitempty"`
		Key        string     `json:"key,omitempty"`
		Label      string     `json:"label,omitempty"`
		Validation []string   `json:"validation,omitempty"`
		Visibility *Predicate `json:"visibility,omitempty"`
		Options    []Option   `json:"options,omitempty"`
	}{KindField, n.Type, n.Key, n.Label, n.Validation, n.Visibility, n.Options})
}

func stringField(raw map[string]json.RawMessage, key string) string {
	body, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(body, &s); err != nil {
		return ""
	}
	return s
}

func firstString(raw map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		if s := stringField(raw, key); s != "" {
			return s
		}
	}
	return ""
}

// decodeRules accepts "required|max:10", ["required", "max:10"] or a single rule string.
func decodeRules(body json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(body, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(body, &s); err != nil || s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '|' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// decodeOptions accepts a list of option objects, a list of strings, or a value->label map.
func decodeOptions(body json.RawMessage) []Option {
	var objs []Option
	if err := json.Unmarshal(body, &objs); err == nil {
		return objs
	}
	var strs []string
	if err := json.Unmarshal(body, &strs); err == nil {
		out := make([]Option, 0, len(strs))
		for _, s := range strs {
			out = append(out, Option{Value: s, Label: s})
		}
		return out
	}
	var m map[string]string
	if err := json.Unmarshal(body, &m); err == nil {
		out := make([]Option, 0, len(m))
		for _, k := range sortedKeys(m) {
			out = append(out, Option{Value: k, Label: m[k]})
		}
		return out
	}
	return nil
}
