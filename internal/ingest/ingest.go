// Package ingest turns uploaded bytes into the plain text the annotation
// engine works over. The engine never sees markup; offsets are always
// relative to the extracted string.
package ingest

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// ErrNoText indicates the upload contained no extractable text. The message
// is surfaced verbatim to the user and no document is created.
var ErrNoText = errors.New("no extractable text")

// Extract converts raw upload bytes into a plain text document string.
// Supported mime hints: text/plain, text/markdown (passed through) and
// text/html (tags stripped). Anything else, undecodable bytes, or an
// extraction that yields only whitespace fails with ErrNoText.
func Extract(data []byte, mimeHint string) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(mimeHint))
	if mediaType != "" {
		if parsed, _, err := mime.ParseMediaType(mimeHint); err == nil {
			mediaType = parsed
		}
	}

	var text string
	switch mediaType {
	case "", "text/plain", "text/markdown", "text/x-markdown":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: not valid utf-8", ErrNoText)
		}
		text = string(data)
	case "text/html", "application/xhtml+xml":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: not valid utf-8", ErrNoText)
		}
		text = extractHTML(string(data))
	default:
		return "", fmt.Errorf("%w: unsupported format %q", ErrNoText, mediaType)
	}

	text = normalize(text)
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

// extractHTML walks the token stream collecting visible text. Script and
// style bodies are skipped; block-ish boundaries become newlines so the
// extracted text stays readable and stable for offset math.
func extractHTML(markup string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(markup))
	var builder strings.Builder
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return builder.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skipDepth++
			}
			if isBlockTag(tag) && builder.Len() > 0 {
				builder.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			builder.WriteString(string(tokenizer.Text()))
		}
	}
}

func isBlockTag(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "section", "article":
		return true
	}
	return false
}

// normalize unifies line endings and strips trailing whitespace per line, so
// the same document ingested twice yields identical offsets.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
