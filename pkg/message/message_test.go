package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPlainTextSkipsNonTextSegments(t *testing.T) {
	t.Parallel()

	msg := Message{Text("hello"), Image("https://example.com/a.png"), Text("world")}
	require.Equal(t, "hello world", msg.ExtractPlainText())
}

func TestExtractPlainTextEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", Message(nil).ExtractPlainText())
	require.Equal(t, "", Message{Image("https://example.com/a.png")}.ExtractPlainText())
}

func TestImageURLsRequiresURLAttribute(t *testing.T) {
	t.Parallel()

	msg := Message{
		Image("https://example.com/1.png"),
		{Type: TypeImage, Data: map[string]string{"file": "local.png"}},
		Text("caption"),
		Image("https://example.com/2.png"),
	}
	require.Equal(t, []string{"https://example.com/1.png", "https://example.com/2.png"}, msg.ImageURLs())
}

func TestStringEscapesTextAndParams(t *testing.T) {
	t.Parallel()

	msg := Message{
		Text("a[b]&c"),
		{Type: TypeImage, Data: map[string]string{"url": "https://x/y?a=1,b=2", "file": "f.png"}},
	}
	require.Equal(t, "a&#91;b&#93;&amp;c[CQ:image,file=f.png,url=https://x/y?a=1&#44;b=2]", msg.String())
}

func TestParseRestoresSegments(t *testing.T) {
	t.Parallel()

	raw := "look &#91;here&#93; [CQ:image,file=f.png,url=https://x/y?a=1&#44;b=2] nice"
	msg := Parse(raw)

	require.Len(t, msg, 3)
	require.Equal(t, "look [here] ", msg[0].Data["text"])
	require.Equal(t, TypeImage, msg[1].Type)
	require.Equal(t, "https://x/y?a=1,b=2", msg[1].Data["url"])
	require.Equal(t, " nice", msg[2].Data["text"])
	require.Equal(t, raw, msg.String())
}

func TestParseCodeWithoutParams(t *testing.T) {
	t.Parallel()

	msg := Parse("[CQ:shake]")
	require.Len(t, msg, 1)
	require.Equal(t, "shake", msg[0].Type)
	require.Empty(t, msg[0].Data)
}

func TestParseBrokenCodeIsText(t *testing.T) {
	t.Parallel()

	msg := Parse("[CQ:image,url=x")
	require.Len(t, msg, 1)
	require.Equal(t, TypeText, msg[0].Type)
	require.Equal(t, "[CQ:image,url=x", msg[0].Data["text"])
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, Parse(""))
	require.Equal(t, "", Message(nil).String())
}
