package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"outreachly/models"
	"outreachly/utils"
)

// Attachment is an in-memory file to include with a send.
type Attachment struct {
	Filename string
	Content  []byte
}

// SendRequest describes one outbound message.
type SendRequest struct {
	Sender  *models.Sender
	To      string
	Subject string
	Body    string

	// ThreadID and InReplyTo carry conversation threading for follow-ups.
	// Empty on a first touch.
	ThreadID  string
	InReplyTo string

	Attachments []Attachment
}

// SendResult is returned after the transport confirms the send.
type SendResult struct {
	MessageID string
	ThreadID  string
}

// ThreadMessage is one message observed in a conversation thread.
type ThreadMessage struct {
	From string
	Date time.Time
}

// SMTPMailer sends through each user's own SMTP account and reads threads
// back over IMAP.
type SMTPMailer struct{}

func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{}
}

// Send transmits one message through the sender's SMTP account. The message
// ID is generated locally and stamped on the outgoing mail so replies can be
// threaded back to it; for a first touch the message ID also becomes the
// thread ID.
func (m *SMTPMailer) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	password, err := utils.Decrypt(req.Sender.SMTPPassword)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	dialer := gomail.NewDialer(
		req.Sender.SMTPHost,
		req.Sender.SMTPPort,
		req.Sender.SMTPUsername,
		password,
	)
	dialer.TLSConfig = &tls.Config{ServerName: req.Sender.SMTPHost}
	if strings.EqualFold(req.Sender.Encryption, "SSL") || strings.EqualFold(req.Sender.Encryption, "TLS") {
		dialer.SSL = true
	}

	messageID := newMessageID(req.Sender.FromEmail)
	threadID := req.ThreadID
	if threadID == "" {
		threadID = messageID
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", req.Sender.FromName, req.Sender.FromEmail))
	msg.SetHeader("To", req.To)
	msg.SetHeader("Subject", req.Subject)
	msg.SetHeader("Message-ID", messageID)
	if req.InReplyTo != "" {
		msg.SetHeader("In-Reply-To", req.InReplyTo)
		msg.SetHeader("References", threadID)
	}
	msg.SetBody("text/html", req.Body)

	for _, att := range req.Attachments {
		content := att.Content
		msg.Attach(att.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := io.Copy(w, bytes.NewReader(content))
			return err
		}))
	}

	if err := dialer.DialAndSend(msg); err != nil {
		return SendResult{}, fmt.Errorf("send failed: %w", err)
	}

	return SendResult{MessageID: messageID, ThreadID: threadID}, nil
}

func newMessageID(fromEmail string) string {
	domain := "outreachly.local"
	if at := strings.LastIndex(fromEmail, "@"); at >= 0 && at < len(fromEmail)-1 {
		domain = fromEmail[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}
