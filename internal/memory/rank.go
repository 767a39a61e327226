package memory

import (
	"math"
	"sort"
	"strings"
)

// relevance scores how well query text matches a node's content.
// Exact token hits weigh 1.0, substring hits 0.7.
func relevance(query string, n *Node) float64 {
	keywords := tokenize(query)
	if len(keywords) == 0 {
		return 0
	}

	target := strings.ToLower(n.ID + " " + n.Content)
	targetSet := make(map[string]bool)
	for _, w := range tokenize(target) {
		targetSet[w] = true
	}

	var matched int
	var weighted float64
	for _, kw := range keywords {
		switch {
		case targetSet[kw]:
			matched++
			weighted += 1.0
		case strings.Contains(target, kw):
			matched++
			weighted += 0.7
		}
	}
	if matched == 0 {
		return 0
	}

	overlap := float64(matched)
	union := float64(len(keywords) + len(targetSet) - matched)
	jaccard := overlap / math.Max(union, 1)
	coverage := weighted / float64(len(keywords))
	return 0.4*jaccard + 0.6*coverage
}

// tokenize splits text into lowercase word tokens longer than one rune.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := strings.ToLower(f); len(w) > 1 {
			out = append(out, w)
		}
	}
	return out
}

type scored struct {
	node  *Node
	score float64
}

// rank keeps nodes relevant to text, best first, capped at limit.
// Empty text keeps everything, most recently updated first.
func rank(nodes []*Node, text string, limit int) []*Node {
	list := make([]scored, 0, len(nodes))
	for _, n := range nodes {
		if text == "" {
			list = append(list, scored{node: n})
			continue
		}
		if s := relevance(text, n); s > 0 {
			list = append(list, scored{node: n, score: s})
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		if !list[i].node.UpdatedAt.Equal(list[j].node.UpdatedAt) {
			return list[i].node.UpdatedAt.After(list[j].node.UpdatedAt)
		}
		return list[i].node.ID < list[j].node.ID
	})
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]*Node, len(list))
	for i, s := range list {
		out[i] = s.node
	}
	return out
}
