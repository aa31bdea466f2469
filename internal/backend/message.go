package backend

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailcore/pkg/types"
)

// ReadEnvelope parses the header block of a raw message into an envelope.
// Only the header is consumed from r.
func ReadEnvelope(r io.Reader) (types.Envelope, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("failed to read header: %w", err)
	}
	header := mail.Header{Header: message.Header{Header: h}}

	env := types.Envelope{Flags: types.NewFlags()}
	if subject, err := header.Subject(); err == nil {
		env.Subject = subject
	} else {
		env.Subject = header.Get("Subject")
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		env.From = formatAddress(from[0])
	} else {
		env.From = header.Get("From")
	}
	if date, err := header.Date(); err == nil {
		env.Date = date
	}
	if id, err := header.MessageID(); err == nil {
		env.MessageID = types.NormalizeMessageID(id)
	}
	return env, nil
}

// ParseMessage parses raw bytes into a Message. Parsing failures degrade
// to a raw-text body; the raw bytes are always preserved.
func ParseMessage(id string, raw []byte) *types.Message {
	msg := &types.Message{
		ID:  id,
		Raw: raw,
	}

	if env, err := ReadEnvelope(bytes.NewReader(raw)); err == nil {
		msg.MessageID = env.MessageID
		msg.Subject = env.Subject
		msg.From = env.From
		msg.Date = env.Date
	}

	parsed, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		msg.BodyText = string(raw)
		return msg
	}

	msg.BodyText = parsed.Text
	msg.BodyHTML = parsed.HTML
	if to, err := parsed.AddressList("To"); err == nil {
		for _, addr := range to {
			msg.To = append(msg.To, addr.Address)
		}
	}
	if cc, err := parsed.AddressList("Cc"); err == nil {
		for _, addr := range cc {
			msg.Cc = append(msg.Cc, addr.Address)
		}
	}
	for _, part := range parsed.Attachments {
		msg.Attachments = append(msg.Attachments, types.Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        len(part.Content),
		})
	}
	return msg
}

func formatAddress(addr *mail.Address) string {
	if addr.Name != "" {
		return addr.Name
	}
	return addr.Address
}
