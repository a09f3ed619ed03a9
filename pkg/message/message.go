package message

import (
	"regexp"
	"slices"
	"strings"
)

const (
	TypeText  = "text"
	TypeImage = "image"
	TypeAt    = "at"
)

var cqCodePattern = regexp.MustCompile(`\[CQ:([._\-0-9A-Za-z]+?)(?:,([^\]]*))?\]`)

// Segment is one typed piece of a chat message.
type Segment struct {
	Type string            `json:"type" yaml:"type"`
	Data map[string]string `json:"data,omitempty" yaml:"data,omitempty"`
}

// Message is an ordered list of segments.
type Message []Segment

// Text builds a plain text segment.
func Text(text string) Segment {
	return Segment{Type: TypeText, Data: map[string]string{"text": text}}
}

// Image builds an image segment referencing a remote file.
func Image(url string) Segment {
	return Segment{Type: TypeImage, Data: map[string]string{"url": url}}
}

// At builds a mention segment for one user id.
func At(userID string) Segment {
	return Segment{Type: TypeAt, Data: map[string]string{"qq": userID}}
}

// String serializes the segment in CQ-code form. Text segments are written as
// escaped plain text.
func (s Segment) String() string {
	if s.Type == TypeText {
		return escape(s.Data["text"], false)
	}

	var b strings.Builder
	b.WriteString("[CQ:")
	b.WriteString(s.Type)

	keys := make([]string, 0, len(s.Data))
	for key := range s.Data {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		b.WriteByte(',')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(escape(s.Data[key], true))
	}

	b.WriteByte(']')
	return b.String()
}

// String serializes the whole message. An empty message serializes to "".
func (m Message) String() string {
	var b strings.Builder
	for _, seg := range m {
		b.WriteString(seg.String())
	}

	return b.String()
}

// ExtractPlainText joins the text of all text segments with single spaces.
func (m Message) ExtractPlainText() string {
	parts := make([]string, 0, len(m))
	for _, seg := range m {
		if seg.Type != TypeText {
			continue
		}
		parts = append(parts, seg.Data["text"])
	}

	return strings.Join(parts, " ")
}

// ImageURLs returns the url attribute of every image segment that carries one,
// in message order.
func (m Message) ImageURLs() []string {
	var urls []string
	for _, seg := range m {
		if seg.Type != TypeImage {
			continue
		}
		if url, ok := seg.Data["url"]; ok && url != "" {
			urls = append(urls, url)
		}
	}

	return urls
}

// Parse decodes a CQ-code string. Text outside codes becomes text segments.
func Parse(raw string) Message {
	var msg Message

	appendText := func(text string) {
		if text == "" {
			return
		}
		msg = append(msg, Text(unescape(text)))
	}

	last := 0
	for _, loc := range cqCodePattern.FindAllStringSubmatchIndex(raw, -1) {
		appendText(raw[last:loc[0]])
		last = loc[1]

		seg := Segment{Type: raw[loc[2]:loc[3]], Data: map[string]string{}}
		if loc[4] >= 0 {
			for _, pair := range strings.Split(raw[loc[4]:loc[5]], ",") {
				key, value, found := strings.Cut(pair, "=")
				key = strings.TrimSpace(key)
				if !found || key == "" {
					continue
				}
				seg.Data[key] = unescape(value)
			}
		}
		msg = append(msg, seg)
	}
	appendText(raw[last:])

	return msg
}

func escape(s string, param bool) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "[", "&#91;")
	s = strings.ReplaceAll(s, "]", "&#93;")
	if param {
		s = strings.ReplaceAll(s, ",", "&#44;")
	}

	return s
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, "&#44;", ",")
	s = strings.ReplaceAll(s, "&#91;", "[")
	s = strings.ReplaceAll(s, "&#93;", "]")
	return strings.ReplaceAll(s, "&amp;", "&")
}
