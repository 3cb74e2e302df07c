package cmds

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/huddle/pkg/protocol"
	"github.com/go-go-golems/huddle/pkg/streaming"
)

func TestPrinterShowsProvisionalStreamLine(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, true)

	p.streamUpdate(streaming.State{Identifier: "BOT", Name: "bot", Tokens: "hel", Active: true})
	p.streamUpdate(streaming.State{Identifier: "BOT", Name: "bot", Tokens: "hello\nwor", Active: true})
	out := buf.String()
	require.Equal(t, 2, strings.Count(out, clearLine))
	require.Contains(t, out, "bot:")
	require.Contains(t, out, "hello wor")
	require.NotContains(t, out, "\n")

	buf.Reset()
	p.messages([]protocol.Message{{Header: protocol.Header{Identifier: "BOT"}, Name: "bot", Content: "hello world"}})
	out = buf.String()
	require.True(t, strings.HasPrefix(out, clearLine), "the finished message replaces the provisional line")
	require.Contains(t, out, "hello world\n")

	buf.Reset()
	p.println("next")
	require.Equal(t, "next\n", buf.String())
}

func TestPrinterClearsDiscardedStream(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, true)
	p.streamUpdate(streaming.State{Identifier: "BOT", Tokens: "partial", Active: true})
	buf.Reset()

	p.streamDiscarded("BOT")
	require.Equal(t, clearLine, buf.String())
}

func TestPlainPrinterSkipsProvisionalText(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	p.streamUpdate(streaming.State{Identifier: "BOT", Tokens: "partial", Active: true})
	require.Empty(t, buf.String())

	p.messages([]protocol.Message{{Header: protocol.Header{Identifier: "alice"}, Name: "Alice", Content: "hi"}})
	require.Equal(t, "Alice: hi\n", buf.String())
}
