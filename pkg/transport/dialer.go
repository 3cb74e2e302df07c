package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn is the subset of *websocket.Conn the transport relies on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens the physical socket for a target.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Conn, error)
}

// WebSocketDialer dials <ServerURL>/ws/<conversation>?token=..&connection_id=..&identifier=..
type WebSocketDialer struct {
	ServerURL string
	Dialer    *websocket.Dialer
	Header    http.Header
}

var _ Dialer = (*WebSocketDialer)(nil)

func NewWebSocketDialer(serverURL string) *WebSocketDialer {
	return &WebSocketDialer{
		ServerURL: serverURL,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, target Target) (Conn, error) {
	u, err := URLFor(d.ServerURL, target)
	if err != nil {
		return nil, err
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s (status %d)", target.ConversationID, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", target.ConversationID)
	}
	return conn, nil
}

// URLFor builds the socket URL for target. http(s) base URLs are mapped to
// ws(s).
func URLFor(base string, target Target) (string, error) {
	if strings.TrimSpace(target.ConversationID) == "" {
		return "", ErrMissingTarget
	}
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", errors.Wrap(err, "parse server url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	prefix := strings.TrimSuffix(u.Path, "/") + "/ws/"
	u.Path = prefix + target.ConversationID
	u.RawPath = prefix + url.PathEscape(target.ConversationID)
	q := u.Query()
	if target.Token != "" {
		q.Set("token", target.Token)
	}
	if target.ConnectionID != "" {
		q.Set("connection_id", target.ConnectionID)
	}
	if target.Identifier != "" {
		q.Set("identifier", target.Identifier)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
