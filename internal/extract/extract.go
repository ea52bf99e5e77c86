// Package extract normalizes the platform's heterogeneous message payloads
// into plain text plus embedded resource references.
//
// A payload may be a flat {"text": ...} object (sometimes with one level of
// re-serialized nesting), an ordered block list of tagged inline runs, a
// localized variant with the block shape nested one level deeper under a
// language key, or a bare image/file descriptor. Extraction never fails:
// any parse error degrades to returning the raw payload as text.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Content is the normalized form of a message payload.
type Content struct {
	Text      string
	ImageKeys []string
}

var mentionMarker = regexp.MustCompile(`@_user_\w+`)

// Extract normalizes raw into plain text and embedded image keys.
func Extract(raw string) Content {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Content{Text: raw}
	}

	// Direct text field, unwrapping exactly one level of nested
	// serialization when the text itself is a {"text": ...} object.
	if txt, ok := obj["text"].(string); ok {
		var inner map[string]any
		if err := json.Unmarshal([]byte(txt), &inner); err == nil {
			if innerTxt, ok := inner["text"].(string); ok {
				return Content{Text: innerTxt}
			}
		}
		return Content{Text: txt}
	}

	// Flat block list.
	if blocks, ok := obj["content"].([]any); ok {
		return fromBlocks(obj, blocks)
	}

	// Localized block list, same shape one level deeper.
	if c, ok := fromLocalized(obj); ok {
		return c
	}

	// Bare resource descriptor.
	if key, ok := obj["image_key"].(string); ok && key != "" {
		return Content{Text: fmt.Sprintf("[image: %s]", key), ImageKeys: []string{key}}
	}
	if key, ok := obj["file_key"].(string); ok && key != "" {
		name, _ := obj["file_name"].(string)
		if name == "" {
			name = key
		}
		return Content{Text: fmt.Sprintf("[file: %s]", name)}
	}

	return Content{Text: raw}
}

func fromBlocks(obj map[string]any, blocks []any) Content {
	var out Content
	var paragraphs []string
	if title, ok := obj["title"].(string); ok && title != "" {
		paragraphs = append(paragraphs, title)
	}
	for _, p := range blocks {
		runs, ok := p.([]any)
		if !ok {
			continue
		}
		var sb strings.Builder
		for _, r := range runs {
			el, ok := r.(map[string]any)
			if !ok {
				continue
			}
			tag, _ := el["tag"].(string)
			switch tag {
			case "text", "a", "md", "":
				if t, ok := el["text"].(string); ok {
					sb.WriteString(t)
				}
			case "at":
				if name, ok := el["user_name"].(string); ok && name != "" {
					sb.WriteString("@" + name)
				}
			case "img":
				if key, ok := el["image_key"].(string); ok && key != "" {
					out.ImageKeys = append(out.ImageKeys, key)
				}
			}
		}
		paragraphs = append(paragraphs, sb.String())
	}
	out.Text = strings.Join(paragraphs, "\n")
	return out
}

func fromLocalized(obj map[string]any) (Content, bool) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		nested, ok := obj[k].(map[string]any)
		if !ok {
			continue
		}
		if blocks, ok := nested["content"].([]any); ok {
			return fromBlocks(nested, blocks), true
		}
	}
	return Content{}, false
}

// CharCount counts the characters credited to the sender for scoring.
// Mention markers are stripped first so being mentioned does not inflate
// the mentioner's own char-count credit.
func CharCount(text string) int {
	stripped := mentionMarker.ReplaceAllString(text, "")
	return utf8.RuneCountInString(strings.TrimSpace(stripped))
}
