package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// SendScope is the OAuth scope needed to send mail.
const SendScope = gmail.GmailSendScope

// Service wraps the Gmail API service
type Service struct {
	srv    *gmail.Service
	sender string
}

// NewService creates a new Gmail service using an authenticated HTTP client.
// sender is the From address of every message.
func NewService(ctx context.Context, client *http.Client, sender string, opts ...option.ClientOption) (*Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Gmail client: %w", err)
	}

	return &Service{srv: srv, sender: sender}, nil
}

// Message is a plain-text email.
type Message struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
}

// Send delivers m and returns the Gmail message id.
func (s *Service) Send(ctx context.Context, m Message) (string, error) {
	if len(m.To) == 0 {
		return "", fmt.Errorf("gmail: message has no recipients")
	}
	raw := BuildMessage(s.sender, m)
	sent, err := s.srv.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to send message: %w", err)
	}
	return sent.Id, nil
}

// BuildMessage renders m as an RFC 2822 message.
func BuildMessage(from string, m Message) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	header("From", from)
	header("To", strings.Join(m.To, ", "))
	header("Cc", strings.Join(m.Cc, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return b.Bytes()
}
