package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/huddle/pkg/docsync"
	"github.com/go-go-golems/huddle/pkg/kvstore"
	"github.com/go-go-golems/huddle/pkg/presence"
	"github.com/go-go-golems/huddle/pkg/protocol"
	"github.com/go-go-golems/huddle/pkg/session"
	"github.com/go-go-golems/huddle/pkg/streaming"
	"github.com/go-go-golems/huddle/pkg/transport"
)

type JoinCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*JoinCommand)(nil)

type JoinSettings struct {
	ConversationID string `glazed:"conversation-id"`
	NoColor        bool   `glazed:"no-color"`
}

func NewJoinCommand() (*JoinCommand, error) {
	sections, err := clientSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"join",
		cmds.WithShort("Join a conversation from the terminal"),
		cmds.WithLong(`Join a conversation and print messages, typing presence and editor activity.

Lines read from stdin are sent as chat messages, except for:
  /open <file> [content]   open a shared tab
  /edit <file> <content>   replace a tab's content
  /close <file>            close a tab
  /tabs                    list tabs
  /save                    force an auto-save
  /quit                    leave`),
		cmds.WithArguments(
			fields.New("conversation-id", fields.TypeString, fields.WithHelp("Conversation to join"), fields.WithRequired(true)),
		),
		cmds.WithFlags(
			fields.New("no-color", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Disable styled output")),
		),
		cmds.WithSections(sections...),
	)
	return &JoinCommand{CommandDescription: desc}, nil
}

func (c *JoinCommand) RunIntoWriter(ctx context.Context, parsedLayers *values.Values, w io.Writer) error {
	s := &JoinSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode join settings")
	}
	cs, err := decodeClientSettings(parsedLayers)
	if err != nil {
		return err
	}

	auth, err := cs.Auth.Store()
	if err != nil {
		return err
	}
	store, err := kvstore.Open(cs.Store)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tabs := docsync.NewTabSet()
	saver, err := docsync.NewAutoSaver(store, tabs, cs.AutoSave.Config())
	if err != nil {
		return err
	}
	defer saver.Close()
	if snap, ok, err := saver.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("could not restore tabs")
	} else if ok {
		tabs.Restore(snap.Tabs)
	}

	tr := transport.NewWebSocket(transport.NewWebSocketDialer(cs.Transport.ServerURL), cs.Transport.Config())
	sess := session.New(tr, auth, cs.Session.Config(cs.Presence.Config()))
	defer sess.Close()

	styled := !s.NoColor
	if f, ok := w.(*os.File); ok {
		styled = styled && isatty.IsTerminal(f.Fd())
	}
	p := newPrinter(w, styled)
	sess.Subscribe(session.Funcs{
		Messages:        p.messages,
		StreamUpdate:    p.streamUpdate,
		StreamDiscarded: p.streamDiscarded,
		Typing:          p.typing,
		EditorProposal: func(pr docsync.Proposal) {
			tabs.Apply(pr)
			p.proposal(pr)
		},
		ParticipantEvent: p.participant,
		Status:           p.status,
	})

	ctx, cancel := signalContext(ctx)
	defer cancel()

	if err := sess.Connect(ctx, s.ConversationID); err != nil {
		return errors.Wrapf(err, "join %s", s.ConversationID)
	}
	for _, t := range tabs.Tabs() {
		if err := sess.OpenFile(t); err != nil {
			log.Warn().Err(err).Str("file", t.FileName).Msg("could not announce tab")
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := saver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleLine(ctx, sess, tabs, saver, p, line); quit {
					return nil
				}
			}
		}
	})
	err = eg.Wait()

	sess.Disconnect()
	if serr := saver.ForceSave(context.Background()); serr != nil {
		log.Warn().Err(serr).Msg("final auto-save failed")
	}
	return err
}

func handleLine(ctx context.Context, sess *session.Session, tabs *docsync.TabSet, saver *docsync.AutoSaver, p *printer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		sess.Typing()
		if err := sess.SendMessage(line); err != nil {
			p.errorf("send failed: %v", err)
		}
		return false
	}

	parts := strings.SplitN(line, " ", 3)
	arg := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	switch parts[0] {
	case "/quit":
		return true
	case "/open":
		if arg(1) == "" {
			p.errorf("usage: /open <file> [content]")
			return false
		}
		t := docsync.Tab{FileName: arg(1), Content: arg(2), FileType: fileTypeOf(arg(1))}
		tabs.Open(t)
		if err := sess.OpenFile(t); err != nil {
			p.errorf("open failed: %v", err)
		}
	case "/edit":
		if arg(1) == "" {
			p.errorf("usage: /edit <file> <content>")
			return false
		}
		if !tabs.Update(arg(1), arg(2), "") {
			p.errorf("no tab named %s", arg(1))
			return false
		}
		sent, err := sess.SendEdit(arg(1), arg(2))
		switch {
		case err != nil:
			p.errorf("edit failed: %v", err)
		case !sent:
			p.errorf("edit to %s not sent: a remote change to it is being applied, retry", arg(1))
		}
	case "/close":
		if err := tabs.Close(arg(1)); err != nil {
			p.errorf("close failed: %v", err)
			return false
		}
		if err := sess.CloseFile(arg(1)); err != nil {
			p.errorf("close failed: %v", err)
		}
	case "/tabs":
		for _, t := range tabs.Tabs() {
			p.tab(t)
		}
	case "/save":
		if err := saver.ForceSave(ctx); err != nil {
			p.errorf("save failed: %v", err)
		}
	default:
		p.errorf("unknown command %s", parts[0])
	}
	return false
}

func fileTypeOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return "text"
}

var (
	nameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	agentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	editorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\x1b[2K"

type printer struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool
	// live is set while a provisional stream line sits on the terminal.
	live bool
}

func newPrinter(w io.Writer, styled bool) *printer {
	return &printer{w: w, styled: styled}
}

func (p *printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

func (p *printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLiveLocked()
	_, _ = fmt.Fprintln(p.w, s)
}

func (p *printer) clearLiveLocked() {
	if p.live {
		_, _ = io.WriteString(p.w, clearLine)
		p.live = false
	}
}

func (p *printer) messages(batch []protocol.Message) {
	for _, m := range batch {
		who := m.Name
		if who == "" {
			who = m.Identifier
		}
		style := nameStyle
		if m.AgentType != "" || strings.ToUpper(m.Identifier) == m.Identifier {
			style = agentStyle
		}
		p.println(p.render(style, who+":") + " " + m.Content)
	}
}

// streamUpdate redraws the provisional text of an agent still streaming on
// a single terminal line. Plain output only gets the finished message.
func (p *printer) streamUpdate(st streaming.State) {
	if !p.styled || !st.Active {
		log.Trace().Str("identifier", st.Identifier).Int("length", len(st.Tokens)).Msg("stream update")
		return
	}
	who := st.Name
	if who == "" {
		who = st.Identifier
	}
	text := strings.ReplaceAll(st.Tokens, "\n", " ")
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, clearLine+p.render(agentStyle, who+":")+" "+p.render(dimStyle, text))
	p.live = true
}

func (p *printer) streamDiscarded(identifier string) {
	log.Debug().Str("identifier", identifier).Msg("stream discarded")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLiveLocked()
}

func (p *printer) typing(typers []presence.Typer) {
	if len(typers) == 0 {
		return
	}
	names := make([]string, 0, len(typers))
	for _, t := range typers {
		if t.Name != "" {
			names = append(names, t.Name)
		} else {
			names = append(names, t.Identifier)
		}
	}
	p.println(p.render(dimStyle, strings.Join(names, ", ")+" typing..."))
}

func (p *printer) proposal(pr docsync.Proposal) {
	p.println(p.render(editorStyle, fmt.Sprintf("[%s] %s by %s", pr.Kind, pr.FileName, pr.Sender.Email)))
}

func (p *printer) participant(env protocol.Envelope) {
	switch e := env.(type) {
	case protocol.UserJoined:
		p.println(p.render(dimStyle, e.Identifier+" joined"))
	case protocol.UserLeft:
		p.println(p.render(dimStyle, e.Identifier+" left"))
	case protocol.SetPrivacy:
		p.println(p.render(dimStyle, fmt.Sprintf("conversation private: %t", e.IsPrivate)))
	case protocol.Read:
		log.Debug().Str("identifier", e.Identifier).Str("message_id", e.MessageID).Msg("read receipt")
	}
}

func (p *printer) status(st transport.Status) {
	switch {
	case st.Terminal:
		p.println(p.render(errorStyle, "disconnected: giving up on reconnecting"))
	case st.ReconnectAttempt > 0 && st.State == transport.StateConnecting:
		p.println(p.render(dimStyle, fmt.Sprintf("reconnecting (attempt %d)...", st.ReconnectAttempt)))
	}
}

func (p *printer) tab(t docsync.Tab) {
	marker := " "
	if t.Modified() {
		marker = "*"
	}
	p.println(fmt.Sprintf("%s %s (%d bytes)", marker, t.FileName, len(t.Content)))
}

func (p *printer) errorf(format string, args ...interface{}) {
	p.println(p.render(errorStyle, fmt.Sprintf(format, args...)))
}
