package models

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(highlighting.WithStyle("github")),
	),
)

// RenderMarkdown converts assistant markup into HTML. Raw HTML inside the content is not passed
// through, so the result is safe to embed in a page.
func RenderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

// RenderMessage renders a single message as an HTML fragment. User messages are escaped verbatim,
// assistant messages go through RenderMarkdown.
func RenderMessage(msg Message) (string, error) {
	body := "<p>" + html.EscapeString(msg.Content) + "</p>"
	if msg.Role == RoleAssistant {
		var err error
		body, err = RenderMarkdown(msg.Content)
		if err != nil {
			return "", err
		}
	}

	class := string(msg.Role)
	if msg.Error {
		class += " error"
	}
	return fmt.Sprintf("<div class=\"message %s\">\n%s</div>\n", class, body), nil
}

// RenderConversation renders a whole conversation as a standalone HTML document.
func RenderConversation(conv Conversation) (string, error) {
	var sb strings.Builder
	title := conv.Title
	if title == "" {
		title = "Conversation"
	}
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	sb.WriteString(fmt.Sprintf("<title>%s</title>\n</head>\n<body>\n", html.EscapeString(title)))
	sb.WriteString(fmt.Sprintf("<h1>%s</h1>\n", html.EscapeString(title)))
	for _, msg := range conv.Messages {
		rendered, err := RenderMessage(msg)
		if err != nil {
			return "", fmt.Errorf("failed to render message %s: %w", msg.ID, err)
		}
		sb.WriteString(rendered)
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String(), nil
}
