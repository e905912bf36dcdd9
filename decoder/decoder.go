// Package decoder recovers header fields and a best-effort plain-text body
// from raw RFC 5322 messages.
//
// Decode never fails. Anything that cannot be recovered is left empty and the
// problem is recorded in ParsedMessage.Warnings.
package decoder

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/spam-report/model"
)

var (
	ErrDateParse = errors.New("date header does not match any known layout")
	ErrDecode    = errors.New("message only partially decoded")
)

// Encoded words in the Subject are converted to UTF-8. Body parts are not:
// their bytes are read as UTF-8 whatever charset they declare.
var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// fractionalSeconds matches "HH:MM:SS.fff", which time.Parse accepts even
// when the layout has no fraction.
var fractionalSeconds = regexp.MustCompile(`:\d\d[.,]\d`)

// DefaultDateLayouts accept "<weekday>, <day> <month> <year> <time> <zone>"
// with a numeric or Z zone and nothing trailing.
var DefaultDateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 Z0700",
	"Mon, 2 Jan 2006 15:04:05 Z07:00",
}

type Decoder struct {
	layouts []string
	logger  *slog.Logger
}

// New returns a Decoder trying layouts in order. An empty list selects
// DefaultDateLayouts.
func New(layouts []string, logger *slog.Logger) *Decoder {
	cleaned := make([]string, 0, len(layouts))
	for _, layout := range layouts {
		if layout = strings.TrimSpace(layout); layout != "" {
			cleaned = append(cleaned, layout)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultDateLayouts...)
	}
	return &Decoder{layouts: cleaned, logger: logger}
}

// ParseDate parses value with the first matching layout.
func (d *Decoder) ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range d.layouts {
		if fractionalSeconds.MatchString(value) && !strings.Contains(layout, "05.") && !strings.Contains(layout, "05,") {
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrDateParse, value)
}

func (d *Decoder) Decode(raw []byte) model.ParsedMessage {
	parsed := model.ParsedMessage{BodySource: model.BodySourceNone}

	entity, err := readEntity(raw)
	if err != nil {
		parsed.Warnings = append(parsed.Warnings, fmt.Errorf("%w: %v", ErrDecode, err))
	}

	d.readHeader(entity.Header, &parsed)

	if isMultipart(entity.Header) {
		d.walkParts(entity, &parsed)
	} else {
		parsed.Body = readText(entity.Body, &parsed)
		parsed.BodySource = model.BodySourceSingle
	}

	d.logWarnings(parsed)
	return parsed
}

// readEntity parses the header block and wraps the rest as the body. The
// returned entity is never nil. Fields before a malformed header line are
// kept; that line and everything after it become the body.
func readEntity(raw []byte) (*message.Entity, error) {
	start, end, bodyStart, malformed := splitHeader(raw)

	block := raw[start:end]
	terminator := "\r\n"
	if len(block) > 0 && block[len(block)-1] != '\n' {
		terminator = "\r\n\r\n"
	}
	h, headerErr := textproto.ReadHeader(bufio.NewReader(io.MultiReader(bytes.NewReader(block), strings.NewReader(terminator))))

	entity, err := newEntity(message.Header{Header: h}, bytes.NewReader(raw[bodyStart:]))
	if malformed {
		headerErr = errors.Join(headerErr, fmt.Errorf("malformed header line at byte %d", bodyStart))
	}
	return entity, errors.Join(headerErr, err)
}

// splitHeader locates the header block raw[start:end] and the offset where the
// body begins. A leading mbox "From " line is skipped. The block ends at the
// first blank line, or at the first line that is neither a field nor a
// continuation, in which case that line starts the body and malformed is set.
func splitHeader(raw []byte) (start, end, bodyStart int, malformed bool) {
	off := 0
	for off < len(raw) {
		next := len(raw)
		if i := bytes.IndexByte(raw[off:], '\n'); i >= 0 {
			next = off + i + 1
		}
		line := bytes.TrimRight(raw[off:next], "\r\n")

		switch {
		case len(line) == 0:
			return start, off, next, false
		case off == start && bytes.HasPrefix(line, []byte("From ")) && !isField(line):
			start = next
		case line[0] == ' ' || line[0] == '\t':
			if off == start {
				return start, off, off, true
			}
		case !isField(line):
			return start, off, off, true
		}
		off = next
	}
	return start, len(raw), len(raw), false
}

// isField reports whether line is "name: value" with a printable ASCII name.
func isField(line []byte) bool {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return false
	}
	for _, c := range bytes.TrimRight(line[:i], " \t") {
		if c < '!' || c > '~' {
			return false
		}
	}
	return true
}

func (d *Decoder) readHeader(h message.Header, parsed *model.ParsedMessage) {
	if h.Has("Date") {
		parsed.Date = validText([]byte(h.Get("Date")))
		parsed.HasDate = true
		if t, err := d.ParseDate(parsed.Date); err != nil {
			parsed.Warnings = append(parsed.Warnings, err)
		} else {
			parsed.ParsedDate = t
		}
	}

	if h.Has("Subject") {
		subject, err := wordDecoder.DecodeHeader(h.Get("Subject"))
		if err != nil {
			parsed.Warnings = append(parsed.Warnings, fmt.Errorf("%w: subject: %v", ErrDecode, err))
			subject = h.Get("Subject")
		}
		parsed.Subject = validText([]byte(subject))
		parsed.HasSubject = true
	}

	if h.Has("From") {
		parsed.From = validText([]byte(h.Get("From")))
		parsed.HasFrom = true
	}
}

// walkParts visits leaves depth-first in document order. The first
// text/plain leaf ends the walk; a text/html leaf is kept until a plain part
// shows up.
func (d *Decoder) walkParts(entity *message.Entity, parsed *model.ParsedMessage) {
	d.walk(entity, nil, parsed)
}

// walk reports whether a text/plain leaf was found below e.
func (d *Decoder) walk(e *message.Entity, path []int, parsed *model.ParsedMessage) bool {
	if !isMultipart(e.Header) {
		if isAttachment(e.Header) {
			return false
		}
		switch mediaType(e.Header) {
		case "text/plain":
			parsed.Body = readText(e.Body, parsed)
			parsed.BodySource = model.BodySourcePlain
			return true
		case "text/html":
			parsed.Body = readText(e.Body, parsed)
			parsed.BodySource = model.BodySourceHTML
		}
		return false
	}

	_, params, _ := e.Header.ContentType()
	mr := textproto.NewMultipartReader(e.Body, params["boundary"])
	for i := 0; ; i++ {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			parsed.Warnings = append(parsed.Warnings, fmt.Errorf("%w: multipart %v: %v", ErrDecode, path, err))
			return false
		}

		partPath := append(append([]int(nil), path...), i)
		child, err := newEntity(message.Header{Header: part.Header}, part)
		if err != nil {
			parsed.Warnings = append(parsed.Warnings, fmt.Errorf("%w: part %v: %v", ErrDecode, partPath, err))
		}
		if d.walk(child, partPath, parsed) {
			return true
		}
	}
}

// newEntity undoes the transfer encoding of body but leaves its bytes in the
// declared charset.
func newEntity(h message.Header, body io.Reader) (*message.Entity, error) {
	decoded := h
	if t, params, err := h.ContentType(); err == nil && params["charset"] != "" {
		decoded = h.Copy()
		delete(params, "charset")
		decoded.SetContentType(t, params)
	}
	entity, err := message.New(decoded, body)
	entity.Header = h
	return entity, err
}

func (d *Decoder) logWarnings(parsed model.ParsedMessage) {
	if d.logger == nil || len(parsed.Warnings) == 0 {
		return
	}
	d.logger.Debug("message decoded with warnings", "subject", parsed.Subject, "warnings", errors.Join(parsed.Warnings...))
}

// mediaType mirrors the RFC 2045 default: a missing or unparsable
// Content-Type is text/plain.
func mediaType(h message.Header) string {
	if !h.Has("Content-Type") {
		return "text/plain"
	}
	t, _, err := h.ContentType()
	if err != nil || t == "" {
		return "text/plain"
	}
	return strings.ToLower(t)
}

func isMultipart(h message.Header) bool {
	if !h.Has("Content-Type") {
		return false
	}
	t, _, err := h.ContentType()
	return err == nil && strings.HasPrefix(strings.ToLower(t), "multipart/")
}

func isAttachment(h message.Header) bool {
	if !h.Has("Content-Disposition") {
		return false
	}
	disp, _, err := h.ContentDisposition()
	if err != nil {
		return strings.Contains(strings.ToLower(h.Get("Content-Disposition")), "attachment")
	}
	return strings.EqualFold(disp, "attachment")
}

// readText keeps whatever was read before a decoding error.
func readText(r io.Reader, parsed *model.ParsedMessage) string {
	data, err := io.ReadAll(r)
	if err != nil {
		parsed.Warnings = append(parsed.Warnings, fmt.Errorf("%w: body: %v", ErrDecode, err))
	}
	return validText(data)
}

func validText(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}
