package notify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalizer converts stored rich text into markdown. ok is false when the
// input was not a recognised document; callers then use it verbatim.
type Normalizer interface {
	ToMarkdown(serialized string) (string, bool)
}

// RichTextNormalizer understands the editor's JSON document tree
// ({"type":"doc","content":[...]}).
type RichTextNormalizer struct{}

type richNode struct {
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	Attrs   map[string]any `json:"attrs"`
	Marks   []richMark     `json:"marks"`
	Content []richNode     `json:"content"`
}

type richMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs"`
}

func (RichTextNormalizer) ToMarkdown(serialized string) (string, bool) {
	trimmed := strings.TrimSpace(serialized)
	if !strings.HasPrefix(trimmed, "{") {
		return serialized, false
	}
	var doc richNode
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil || doc.Type != "doc" {
		return serialized, false
	}
	var blocks []string
	for _, n := range doc.Content {
		if b := renderBlock(n, ""); b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n"), true
}

// normalizeText applies n, tolerating a nil normalizer.
func normalizeText(n Normalizer, s string) string {
	if n == nil {
		return s
	}
	if md, ok := n.ToMarkdown(s); ok {
		return md
	}
	return s
}

func renderBlock(n richNode, indent string) string {
	switch n.Type {
	case "paragraph":
		return indent + renderInline(n.Content)
	case "heading":
		level := intAttr(n.Attrs, "level", 1)
		return strings.Repeat("#", max(1, min(level, 6))) + " " + renderInline(n.Content)
	case "blockquote":
		var lines []string
		for _, c := range n.Content {
			lines = append(lines, "> "+renderBlock(c, ""))
		}
		return strings.Join(lines, "\n")
	case "codeBlock":
		return "```\n" + renderInline(n.Content) + "\n```"
	case "bulletList", "orderedList", "taskList":
		var lines []string
		for i, item := range n.Content {
			prefix := "- "
			switch {
			case n.Type == "orderedList":
				prefix = fmt.Sprintf("%d. ", intAttr(n.Attrs, "start", 1)+i)
			case item.Type == "taskItem":
				prefix = "- [ ] "
				if checked, _ := item.Attrs["checked"].(bool); checked {
					prefix = "- [x] "
				}
			}
			lines = append(lines, renderListItem(item, indent, prefix))
		}
		return strings.Join(lines, "\n")
	case "horizontalRule":
		return "---"
	case "hardBreak":
		return ""
	default:
		if n.Text != "" {
			return indent + n.Text
		}
		return indent + renderInline(n.Content)
	}
}

func renderListItem(item richNode, indent, prefix string) string {
	var parts []string
	for i, c := range item.Content {
		if i == 0 {
			parts = append(parts, indent+prefix+strings.TrimPrefix(renderBlock(c, ""), indent))
			continue
		}
		parts = append(parts, renderBlock(c, indent+"  "))
	}
	if len(parts) == 0 {
		return indent + strings.TrimRight(prefix, " ")
	}
	return strings.Join(parts, "\n")
}

func renderInline(nodes []richNode) string {
	var b strings.Builder
	for _, n := range nodes {
		switch n.Type {
		case "text":
			b.WriteString(applyMarks(n.Text, n.Marks))
		case "hardBreak":
			b.WriteString("\n")
		case "mention":
			if label, ok := n.Attrs["label"].(string); ok {
				b.WriteString("@" + label)
			}
		default:
			b.WriteString(renderInline(n.Content))
		}
	}
	return b.String()
}

func applyMarks(text string, marks []richMark) string {
	for _, m := range marks {
		switch m.Type {
		case "bold":
			text = "**" + text + "**"
		case "italic":
			text = "_" + text + "_"
		case "strike":
			text = "~~" + text + "~~"
		case "code":
			text = "`" + text + "`"
		case "link":
			if href, ok := m.Attrs["href"].(string); ok && href != "" {
				text = "[" + text + "](" + href + ")"
			}
		}
	}
	return text
}

func intAttr(attrs map[string]any, key string, def int) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
