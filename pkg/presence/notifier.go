package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Notifier is the sending side of presence: it turns a stream of local
// keystrokes into throttled is_typing=true frames and a prompt
// is_typing=false once the user goes idle.
type Notifier struct {
	send    func(isTyping bool) error
	cfg     Config
	now     func() time.Time
	limiter *rate.Limiter

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	seq    uint64
	closed bool
}

type NotifierOption func(*Notifier)

func WithNotifierClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

func NewNotifier(send func(isTyping bool) error, cfg Config, opts ...NotifierOption) *Notifier {
	cfg = cfg.normalized()
	n := &Notifier{
		send:    send,
		cfg:     cfg,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(cfg.Throttle), 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Keystroke records local typing activity.
func (n *Notifier) Keystroke() {
	now := n.now()
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	sendTrue := n.limiter.AllowN(now, 1)
	if sendTrue {
		n.typing = true
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.seq++
	seq := n.seq
	n.timer = time.AfterFunc(n.cfg.Debounce, func() { n.idle(seq) })
	n.mu.Unlock()

	if sendTrue {
		n.emit(true)
	}
}

// idle fires after the debounce. A timer superseded by a later keystroke is
// ignored.
func (n *Notifier) idle(seq uint64) {
	n.mu.Lock()
	if seq != n.seq {
		n.mu.Unlock()
		return
	}
	n.timer = nil
	if !n.typing || n.closed {
		n.mu.Unlock()
		return
	}
	n.typing = false
	n.mu.Unlock()
	n.emit(false)
}

// Stop sends is_typing=false right away if a true is outstanding, e.g. when a
// message was just sent.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	was := n.typing
	n.typing = false
	n.mu.Unlock()
	if was {
		n.emit(false)
	}
}

// Close cancels the debounce timer without sending anything.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.typing = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Notifier) emit(isTyping bool) {
	if n.send == nil {
		return
	}
	if err := n.send(isTyping); err != nil {
		log.Debug().Err(err).Str("component", "presence").Bool("is_typing", isTyping).Msg("typing notification not sent")
	}
}
