package forms

import "sort"

// Walk visits every node depth-first in declaration order.
func (s Schema) Walk(fn func(Node)) {
	var visit func(nodes []Node)
	visit = func(nodes []Node) {
		for _, n := range nodes {
			fn(n)
			if n.Kind == KindSection {
				visit(n.Children)
			}
		}
	}
	visit(s.Nodes)
}

// FieldKeys returns field keys in the order they appear in the tree. Duplicates keep the first position.
func (s Schema) FieldKeys() []string {
	seen := make(map[string]struct{})
	var keys []string
	s.Walk(func(n Node) {
		if n.Kind != KindField || n.Key == "" {
			return
		}
		if _, ok := seen[n.Key]; ok {
			return
		}
		seen[n.Key] = struct{}{}
		keys = append(keys, n.Key)
	})
	return keys
}

// FieldLabels flattens the tree into a field key -> label map. The first labelled occurrence of a key wins.
func (s Schema) FieldLabels() map[string]string {
	labels := make(map[string]string)
	s.Walk(func(n Node) {
		if n.Kind != KindField || n.Key == "" || n.Label == "" {
			return
		}
		if _, ok := labels[n.Key]; !ok {
			labels[n.Key] = n.Label
		}
	})
	return labels
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
