// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ImageMarkdown renders url as an inline image.
func ImageMarkdown(url string) string {
	return "![](" + url + ")"
}

// LinkMarkdown renders url as a link labelled name.
func LinkMarkdown(name, url string) string {
	if name == "" {
		name = path.Base(url)
	}
	return "[" + escapeLabel(name) + "](" + url + ")"
}

func escapeLabel(s string) string {
	r := strings.NewReplacer("[", `\[`, "]", `\]`)
	return r.Replace(s)
}

// JoinMarkdown renders media as a block, one item per paragraph.
func JoinMarkdown(items []Media) string {
	parts := make([]string, 0, len(items))
	for _, m := range items {
		if md := m.Markdown(); md != "" {
			parts = append(parts, md)
		}
	}
	return strings.Join(parts, "\n\n")
}

// markdownLink matches ![alt](target) and [label](target).
var markdownLink = regexp.MustCompile(`(!?\[[^\]]*\])\(([^)\s]+)\)`)

// RewriteLocalLinks resolves markdown links and images whose target is a
// local path, leaving remote links and code untouched.
func (r *Resolver) RewriteLocalLinks(ctx context.Context, src string) string {
	if !strings.Contains(src, "](") {
		return src
	}
	targets := localTargets(src)
	if len(targets) == 0 {
		return src
	}
	return markdownLink.ReplaceAllStringFunc(src, func(m string) string {
		sub := markdownLink.FindStringSubmatch(m)
		label, target := sub[1], sub[2]
		if !targets[target] {
			return m
		}
		resolved := r.Resolve(ctx, target)
		if resolved == target {
			return m
		}
		return label + "(" + resolved + ")"
	})
}

var markdownParser = goldmark.New().Parser()

// localTargets returns the local destinations of real link and image nodes.
// Bracket text inside code spans or fenced blocks is not a link.
func localTargets(src string) map[string]bool {
	doc := markdownParser.Parse(text.NewReader([]byte(src)))
	found := map[string]bool{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		var dest []byte
		switch node := n.(type) {
		case *ast.Link:
			dest = node.Destination
		case *ast.Image:
			dest = node.Destination
		default:
			return ast.WalkContinue, nil
		}
		if d := string(dest); IsLocal(d) {
			found[d] = true
		}
		return ast.WalkContinue, nil
	})
	return found
}
