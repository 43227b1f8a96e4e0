package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/reconnect"
	"github.com/erauner12/taskboard-sync/internal/syncx"
)

const closeWriteTimeout = time.Second

// Handler receives connection events. Nil callbacks are skipped.
type Handler struct {
	OnConnect func()
	OnMessage func(msg syncx.Message)
	OnClose   func(code int, err error)
}

// Status is the raw view of the stream
type Status struct {
	Data      []byte
	Connected bool
	Err       error
}

// Options configures a Transport
type Options struct {
	Dialer    *websocket.Dialer
	Scheduler *reconnect.Scheduler

	// Header is called before every dial, e.g. to attach a bearer token
	Header func(ctx context.Context) (http.Header, error)

	Logger *zerolog.Logger
}

// Transport keeps at most one websocket connection to a stream endpoint and
// reconnects with backoff after abnormal closes. A {"finished": true}
// message or a normal close (1000) ends the stream without reconnecting.
type Transport struct {
	dialer    *websocket.Dialer
	scheduler *reconnect.Scheduler
	header    func(ctx context.Context) (http.Header, error)
	logger    zerolog.Logger

	mu        sync.Mutex
	opened    bool
	endpoint  string
	enabled   bool
	gen       uint64
	conn      *websocket.Conn
	cancel    context.CancelFunc
	terminal  bool
	connected bool
	err       error
	data      []byte
	handlers  map[int]Handler
	nextID    int
}

// New creates an idle transport; nothing is dialed until Open
func New(opts Options) *Transport {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = reconnect.NewScheduler(reconnect.DefaultPolicy())
	}
	logger := log.Logger.With().Str("component", "stream").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Transport{
		dialer:    dialer,
		scheduler: scheduler,
		header:    opts.Header,
		logger:    logger,
		handlers:  map[int]Handler{},
	}
}

// Open points the transport at endpoint. Calling it again with the same pair
// is a no-op. Any other call tears the current connection down first;
// enabled=false leaves it closed with the retry timer cancelled and the
// attempt counter reset.
func (t *Transport) Open(endpoint string, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opened && t.endpoint == endpoint && t.enabled == enabled {
		return
	}
	t.teardownLocked()
	t.scheduler.Reset()

	t.opened = true
	t.endpoint = endpoint
	t.enabled = enabled
	t.err = nil
	t.data = nil

	if enabled && endpoint != "" {
		t.connectLocked()
	}
}

// Close tears the connection down and drops every subscription
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked()
	t.scheduler.Reset()
	t.opened = false
	t.enabled = false
	t.handlers = map[int]Handler{}
}

// Subscribe registers h for events of the current and future connections
func (t *Transport) Subscribe(h Handler) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = h
	return &Subscription{t: t, id: id}
}

// Status returns the last raw message, connection flag and error
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{Data: t.data, Connected: t.connected, Err: t.err}
}

// IsConnected reports whether a connection is currently established
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Err returns the current transport error, nil when healthy
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Subscription detaches a Handler
type Subscription struct {
	t    *Transport
	id   int
	once sync.Once
}

// Close stops delivery to the handler. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.t.mu.Lock()
		delete(s.t.handlers, s.id)
		s.t.mu.Unlock()
	})
}

// teardownLocked detaches the current connection's goroutine (by bumping the
// generation) before closing the socket, so no event of the old connection
// reaches a handler afterwards.
func (t *Transport) teardownLocked() {
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.conn != nil {
		conn := t.conn
		t.conn = nil
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		_ = conn.Close()
	}
	t.connected = false
	t.terminal = false
}

func (t *Transport) connectLocked() {
	t.gen++
	gen := t.gen
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.terminal = false
	go t.run(ctx, gen, t.endpoint)
}

func (t *Transport) run(ctx context.Context, gen uint64, endpoint string) {
	conn, err := t.dial(ctx, endpoint)
	if err != nil {
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.cancel = nil
		t.err = &TransportError{Op: "dial", Err: err}
		t.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("stream dial failed")
		t.scheduleLocked(gen)
		subs := t.handlersLocked()
		t.mu.Unlock()

		t.dispatch(gen, subs, func(h Handler) {
			if h.OnClose != nil {
				h.OnClose(websocket.CloseAbnormalClosure, err)
			}
		})
		return
	}

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.connected = true
	t.err = nil
	t.scheduler.Succeeded()
	subs := t.handlersLocked()
	t.mu.Unlock()

	t.logger.Info().Str("endpoint", endpoint).Msg("stream connected")
	t.dispatch(gen, subs, func(h Handler) {
		if h.OnConnect != nil {
			h.OnConnect()
		}
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(gen, err)
			return
		}
		t.handleMessage(gen, conn, data)
	}
}

func (t *Transport) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	var header http.Header
	if t.header != nil {
		h, err := t.header(ctx)
		if err != nil {
			return nil, err
		}
		header = h
	}
	conn, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (t *Transport) handleMessage(gen uint64, conn *websocket.Conn, data []byte) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.data = data

	msg, err := syncx.DecodeMessage(data)
	if err != nil {
		t.err = &TransportError{Op: "decode", Err: err}
		t.mu.Unlock()
		t.logger.Warn().Err(err).Msg("ignoring stream message")
		return
	}
	t.err = nil

	if msg.Finished() {
		t.terminal = true
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "finished")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeWriteTimeout))
		t.logger.Info().Msg("stream finished")
	}
	subs := t.handlersLocked()
	t.mu.Unlock()

	t.dispatch(gen, subs, func(h Handler) {
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	})
}

func (t *Transport) handleClose(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.cancel = nil
	t.connected = false

	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	if t.terminal || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.logger.Info().Int("code", code).Msg("stream closed")
	} else {
		t.err = &TransportError{Op: "read", Code: code, Err: err}
		t.logger.Warn().Err(err).Int("code", code).Msg("stream closed abnormally")
		t.scheduleLocked(gen)
	}
	subs := t.handlersLocked()
	t.mu.Unlock()

	t.dispatch(gen, subs, func(h Handler) {
		if h.OnClose != nil {
			h.OnClose(code, err)
		}
	})
}

func (t *Transport) scheduleLocked(gen uint64) {
	delay, ok := t.scheduler.Schedule(func() { t.retry(gen) })
	if ok {
		t.logger.Info().Dur("delay", delay).Int("attempt", t.scheduler.Attempt()).Msg("stream reconnect scheduled")
	}
}

func (t *Transport) retry(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.enabled {
		return
	}
	t.connectLocked()
}

type subscriber struct {
	id int
	h  Handler
}

func (t *Transport) handlersLocked() []subscriber {
	out := make([]subscriber, 0, len(t.handlers))
	for id, h := range t.handlers {
		out = append(out, subscriber{id: id, h: h})
	}
	return out
}

// dispatch calls fn for each subscriber that is still attached to connection
// gen at the moment of the call. Handlers run without t.mu held, so a
// teardown or Subscription.Close racing with an event skips the remaining
// calls; a call already running is not interrupted.
func (t *Transport) dispatch(gen uint64, subs []subscriber, fn func(h Handler)) {
	for _, sub := range subs {
		if !t.attached(gen, sub.id) {
			continue
		}
		fn(sub.h)
	}
}

func (t *Transport) attached(gen uint64, id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return false
	}
	_, ok := t.handlers[id]
	return ok
}
