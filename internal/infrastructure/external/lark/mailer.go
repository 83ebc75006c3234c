package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
)

var (
	anchorPattern = regexp.MustCompile(`(?is)<a\s[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankLines    = regexp.MustCompile(`\n\s*\n+`)
)

// Mailer delivers notification mail as Lark rich-text (post) messages
// addressed by email
type Mailer struct {
	messages MessageCreator
	logger   *zap.Logger
}

// NewMailer creates a Lark mail transport
func NewMailer(messages MessageCreator, logger *zap.Logger) *Mailer {
	return &Mailer{
		messages: messages,
		logger:   logger,
	}
}

// Name identifies the transport
func (m *Mailer) Name() string {
	return "lark"
}

// SendMail implements port.Mailer. Every recipient gets its own message.
func (m *Mailer) SendMail(ctx context.Context, mail port.Mail) error {
	recipients := append(append([]string(nil), mail.To...), mail.Cc...)
	if len(recipients) == 0 {
		return fmt.Errorf("mail has no recipients")
	}

	content, err := postContent(mail.Subject, mail.HTMLBody)
	if err != nil {
		return fmt.Errorf("failed to build post content: %w", err)
	}

	for _, email := range recipients {
		req := larkim.NewCreateMessageReqBuilder().
			ReceiveIdType("email").
			Body(larkim.NewCreateMessageReqBodyBuilder().
				ReceiveId(email).
				MsgType("post").
				Content(content).
				Build()).
			Build()

		resp, err := m.messages.Create(ctx, req)
		if err != nil {
			m.logger.Error("Failed to send message", zap.String("email", email), zap.Error(err))
			return fmt.Errorf("failed to send message to %s: %w", email, err)
		}
		if !resp.Success() {
			m.logger.Error("API returned failure",
				zap.String("email", email),
				zap.Int("code", resp.Code),
				zap.String("msg", resp.Msg))
			return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
		}
	}

	return nil
}

type postElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]postElement `json:"content"`
}

// postContent converts the HTML body into a Lark post: text paragraphs
// followed by one line of links
func postContent(subject, htmlBody string) (string, error) {
	var links []postElement
	for _, match := range anchorPattern.FindAllStringSubmatch(htmlBody, -1) {
		links = append(links, postElement{
			Tag:  "a",
			Text: html.UnescapeString(strings.TrimSpace(tagPattern.ReplaceAllString(match[2], ""))),
			Href: html.UnescapeString(match[1]),
		})
	}

	text := anchorPattern.ReplaceAllString(htmlBody, "")
	text = strings.NewReplacer("</p>", "\n\n", "<br>", "\n", "<br/>", "\n").Replace(text)
	text = html.UnescapeString(tagPattern.ReplaceAllString(text, ""))
	text = blankLines.ReplaceAllString(strings.TrimSpace(text), "\n")

	var content [][]postElement
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "|" {
			continue
		}
		content = append(content, []postElement{{Tag: "text", Text: line}})
	}
	if len(links) > 0 {
		content = append(content, links)
	}

	payload := map[string]postBody{
		"en_us": {Title: subject, Content: content},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
