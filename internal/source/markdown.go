package source

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

var blankRun = regexp.MustCompile(`\n{3,}`)

var markdownParser = goldmark.New(
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// FromMarkdown renders markdown to plain text and wraps it in a document.
// Blocks are separated by blank lines so the chunker can split on them.
// When name is empty the first heading becomes the name.
func FromMarkdown(name string, raw []byte) (Document, error) {
	doc := markdownParser.Parser().Parse(text.NewReader(raw))

	if name == "" {
		tree, err := toc.Inspect(doc, raw, toc.MinDepth(1), toc.Compact(true))
		if err != nil {
			return Document{}, fmt.Errorf("inspect TOC: %w", err)
		}
		name = firstTitle(tree.Items)
	}

	plain, err := renderPlain(doc, raw)
	if err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}
	return New(OriginMarkdown, name, plain), nil
}

func firstTitle(items toc.Items) string {
	for _, item := range items {
		if len(item.Title) > 0 {
			return string(item.Title)
		}
		if t := firstTitle(item.Items); t != "" {
			return t
		}
	}
	return ""
}

// renderPlain walks the AST and writes inline text, ending each block with newlines.
func renderPlain(doc ast.Node, source []byte) (string, error) {
	var buf bytes.Buffer

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(source))
				}
				buf.WriteString("\n\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.Heading, *ast.Paragraph:
			if !entering {
				buf.WriteString("\n\n")
			}
		case *ast.TextBlock:
			if !entering {
				buf.WriteByte('\n')
			}
		case *ast.List, *ast.ThematicBreak:
			if !entering {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}

	out := blankRun.ReplaceAllString(buf.String(), "\n\n")
	return strings.TrimSpace(out), nil
}
