package chat

import (
	"regexp"
	"strings"
)

// NodeKind discriminates the entries inside a rendered paragraph.
type NodeKind int

const (
	NodeText NodeKind = iota
	NodeLineBreak
)

// Node is a single text run or line break within a paragraph.
type Node struct {
	Kind NodeKind
	Text string
}

// Paragraph is one block of the rendered message, separated from its
// neighbors by paragraph spacing.
type Paragraph struct {
	Nodes []Node
}

var paragraphSplit = regexp.MustCompile(`\n[ \t]*\n+`)

// RenderNodes converts accumulated message text into a paragraph/line tree.
// Paragraphs split on blank lines, lines within a paragraph split on single
// newlines with a line-break node between runs.
//
// Pure function of its input: calling it twice on the same text yields a
// structurally identical tree.
func RenderNodes(text string) []Paragraph {
	if text == "" {
		return nil
	}

	blocks := paragraphSplit.Split(text, -1)
	paragraphs := make([]Paragraph, 0, len(blocks))
	for _, block := range blocks {
		if strings.TrimSpace(block) == "" {
			continue
		}

		lines := strings.Split(block, "\n")
		nodes := make([]Node, 0, 2*len(lines)-1)
		for i, line := range lines {
			if i > 0 {
				nodes = append(nodes, Node{Kind: NodeLineBreak})
			}
			nodes = append(nodes, Node{Kind: NodeText, Text: line})
		}
		paragraphs = append(paragraphs, Paragraph{Nodes: nodes})
	}

	return paragraphs
}

// PlainText flattens a render tree back into display text. Lines rejoin with
// single newlines, paragraphs with a blank line.
func PlainText(paragraphs []Paragraph) string {
	var sb strings.Builder
	for i, p := range paragraphs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		for _, n := range p.Nodes {
			switch n.Kind {
			case NodeLineBreak:
				sb.WriteString("\n")
			case NodeText:
				sb.WriteString(n.Text)
			}
		}
	}
	return sb.String()
}
