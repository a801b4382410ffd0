package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/textproto"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"outreachly/models"
	"outreachly/utils"
)

// ListThreadMessages fetches the messages belonging to one conversation
// thread from the sender's mailbox, ordered chronologically. Only the thread
// is searched: the IMAP query matches the thread's message ID in the
// Message-ID, In-Reply-To and References headers, never the whole inbox.
func (m *SMTPMailer) ListThreadMessages(ctx context.Context, sender *models.Sender, threadID string) ([]ThreadMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !sender.HasIMAP() {
		return nil, fmt.Errorf("sender %d has no IMAP configuration", sender.ID)
	}

	imapClient, err := dialIMAP(sender)
	if err != nil {
		return nil, err
	}
	defer imapClient.Logout()

	mailbox := "INBOX"
	if sender.IMAPMailbox != "" {
		mailbox = sender.IMAPMailbox
	}
	if _, err := imapClient.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}

	seen := make(map[uint32]struct{})
	var ids []uint32
	for _, header := range []string{"Message-Id", "In-Reply-To", "References"} {
		criteria := imap.NewSearchCriteria()
		criteria.Header = textproto.MIMEHeader{header: []string{threadID}}
		found, err := imapClient.Search(criteria)
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", header, err)
		}
		for _, id := range found {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	var thread []ThreadMessage
	for msg := range messages {
		if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
			continue
		}
		thread = append(thread, ThreadMessage{
			From: addressString(msg.Envelope.From[0]),
			Date: msg.Envelope.Date,
		})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("error during fetch: %w", err)
	}

	sort.Slice(thread, func(i, j int) bool { return thread[i].Date.Before(thread[j].Date) })
	return thread, nil
}

func dialIMAP(sender *models.Sender) (*client.Client, error) {
	password, err := utils.Decrypt(sender.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	imapAddr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)

	var imapClient *client.Client
	switch strings.ToUpper(sender.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{
			ServerName: sender.IMAPHost,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				ServerName: sender.IMAPHost,
			})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := imapClient.Login(sender.IMAPUsername, password); err != nil {
		imapClient.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}
	return imapClient, nil
}

func addressString(addr *imap.Address) string {
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}
