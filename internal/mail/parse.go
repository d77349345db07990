package mail

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/JaimeStill/tally/pkg/formatting"
)

const maxBodyBytes = 1 << 20

// Parse decodes a raw RFC 5322 message. Attachments are written under dir;
// those larger than maxSize are skipped and listed in Parsed.Skipped.
func Parse(r io.Reader, dir string, maxSize int64) (Parsed, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return Parsed{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	var p Parsed
	h := mr.Header

	if p.Subject, err = h.Subject(); err != nil {
		p.Subject = h.Get("Subject")
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.From = strings.ToLower(from[0].Address)
	}
	if date, err := h.Date(); err == nil {
		p.Date = date.UTC()
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		p.MessageID = "<" + id + ">"
	}

	var spool string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			cleanup(p.Attachments)
			return Parsed{}, fmt.Errorf("read part: %w", err)
		}

		switch ph := part.Header.(type) {
		case *gomail.InlineHeader:
			ct, _, _ := ph.ContentType()
			if p.Body == "" && (ct == "" || ct == "text/plain") {
				body, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
				if err == nil {
					p.Body = strings.TrimSpace(string(body))
				}
			}
		case *gomail.AttachmentHeader:
			name, _ := ph.Filename()
			ct, _, _ := ph.ContentType()

			if spool == "" {
				if spool, err = os.MkdirTemp(dir, "msg-"); err != nil {
					cleanup(p.Attachments)
					return Parsed{}, fmt.Errorf("create spool dir: %w", err)
				}
			}

			file, err := spoolFile(spool, name, ct, part.Body, maxSize)
			if err != nil {
				if err == ErrTooLarge {
					p.Skipped = append(p.Skipped, name)
					continue
				}
				cleanup(p.Attachments)
				return Parsed{}, err
			}
			p.Attachments = append(p.Attachments, file)
		}
	}

	if spool != "" && len(p.Attachments) == 0 {
		os.Remove(spool)
	}
	return p, nil
}

func spoolFile(dir, name, contentType string, body io.Reader, maxSize int64) (File, error) {
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}

	safe := formatting.SafeFilename(name)
	f, err := os.CreateTemp(dir, "*-"+safe)
	if err != nil {
		return File{}, fmt.Errorf("spool %s: %w", name, err)
	}

	limit := body
	if maxSize > 0 {
		limit = io.LimitReader(body, maxSize+1)
	}

	n, err := io.Copy(f, limit)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return File{}, fmt.Errorf("spool %s: %w", name, err)
	}
	if maxSize > 0 && n > maxSize {
		os.Remove(f.Name())
		return File{}, ErrTooLarge
	}

	return File{
		Filename:    safe,
		ContentType: contentType,
		Size:        n,
		Path:        f.Name(),
	}, nil
}

// Release removes the spooled attachment files of p.
func Release(p Parsed) {
	cleanup(p.Attachments)
	if len(p.Attachments) > 0 {
		os.Remove(filepath.Dir(p.Attachments[0].Path))
	}
}

func cleanup(files []File) {
	for _, f := range files {
		os.Remove(f.Path)
	}
}
