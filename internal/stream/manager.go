// Package stream manages the persistent websocket session to the venue:
// subscription bookkeeping, replay on reconnect, message classification and
// listener dispatch.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/perpscope/perpscope/errs"
	"github.com/perpscope/perpscope/internal/observability"
	"github.com/perpscope/perpscope/internal/schema"
)

const component = "stream"

// Channel names a venue streaming channel.
type Channel string

const (
	// ChannelTrades carries executed trades per coin.
	ChannelTrades Channel = "trades"
	// ChannelAllMids carries the venue-wide mid price table.
	ChannelAllMids Channel = "allMids"
	// ChannelBook carries l2 book snapshots per coin.
	ChannelBook Channel = "l2Book"

	channelSubscriptionAck = "subscriptionResponse"
)

// Subscription identifies persistent interest in one streaming feed. Identity
// is structural: two subscriptions with equal channel and coin are the same.
type Subscription struct {
	Channel Channel
	Coin    string
}

func (s Subscription) key() string {
	return string(s.Channel) + "|" + s.Coin
}

// State is the connection lifecycle state of the manager.
type State int32

const (
	// StateDisconnected means no transport is open and no dial is in flight.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the transport is open.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarketSource supplies the coin list for SubscribeAllKnownMarkets.
type MarketSource interface {
	CoinsOrFallback() []string
}

// Config bounds the manager's transport and reconnection behaviour.
type Config struct {
	URL          string
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

type wsRequest struct {
	Method       string         `json:"method"`
	Subscription wsSubscription `json:"subscription"`
}

type wsSubscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMidsData struct {
	Mids map[string]decimal.Decimal `json:"mids"`
}

// Manager owns one logical streaming session to the venue. All transitions are
// serialized internally; listener dispatch happens on the session's read
// goroutine in arrival order.
type Manager struct {
	cfg     Config
	dialer  Dialer
	markets MarketSource
	metrics *Metrics

	mu            sync.Mutex
	state         State
	conn          Conn
	sessionID     string
	sessionCancel context.CancelFunc
	attempts      int
	// generation invalidates stale sessions and pending retry loops; it bumps
	// on every explicit Connect/Disconnect and on every adopted transport.
	generation uint64
	subs       map[string]Subscription
	subOrder   []string

	listenerMu   sync.RWMutex
	onConnect    []func()
	onDisconnect []func(error)
	onTrade      []func(schema.Trade)
	onMids       []func(map[string]decimal.Decimal)
	onBook       []func(schema.Book)
	onError      []func(error)
}

// NewManager constructs a stream manager. markets may be nil when
// SubscribeAllKnownMarkets is not used; metrics may be nil.
func NewManager(cfg Config, dialer Dialer, markets MarketSource, metrics *Metrics) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		dialer:  dialer,
		markets: markets,
		metrics: metrics,
		subs:    make(map[string]Subscription),
	}
}

// OnConnect registers a listener invoked after every successful connection,
// once the desired subscriptions have been replayed.
func (m *Manager) OnConnect(fn func()) {
	if fn == nil {
		return
	}
	m.listenerMu.Lock()
	m.onConnect = append(m.onConnect, fn)
	m.listenerMu.Unlock()
}

// OnDisconnect registers a listener invoked whenever the transport closes.
// The error is nil for caller-initiated disconnects.
func (m *Manager) OnDisconnect(fn func(error)) {
	if fn == nil {
		return
	}
	m.listenerMu.Lock()
	m.onDisconnect = append(m.onDisconnect, fn)
	m.listenerMu.Unlock()
}

// OnTrade registers a listener invoked once per individual trade record, in
// arrival order. Batch boundaries are not preserved.
func (m *Manager) OnTrade(fn func(schema.Trade)) {
	if fn == nil {
		return
	}
	m.listenerMu.Lock()
	m.onTrade = append(m.onTrade, fn)
	m.listenerMu.Unlock()
}

// OnMids registers a listener for venue-wide mid price updates.
func (m *Manager) OnMids(fn func(map[string]decimal.Decimal)) {
	if fn == nil {
		return
	}
	m.listenerMu.Lock()
	m.onMids = append(m.onMids, fn)
	m.listenerMu.Unlock()
}

// OnBook registers a listener for l2 book snapshots.
func (m *Manager) OnBook(fn func(schema.Book)) {
	if fn == nil {
		return
	}
	m.listenerMu.Lock()
	m.onBook = append(m.onBook, fn)
	m.listenerMu.Unlock()
}

// OnError registers a listener for transport-level errors. Errors do not by
// themselves change connection state.
func (m *Manager) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	m.listenerMu.Lock()
	m.onError = append(m.onError, fn)
	m.listenerMu.Unlock()
}

// Status returns the current connection state.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the current consecutive reconnection attempt count.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect opens the transport. Calling Connect while connecting or connected
// is a no-op; a fresh call after the retry budget was exhausted starts over
// with a zeroed attempt counter.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.attempts = 0
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	conn, err := m.dialer(ctx, m.cfg.URL)
	if err != nil {
		m.mu.Lock()
		if gen == m.generation {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		return errs.New(component, errs.CodeNetwork, errs.WithMessage("connect"), errs.WithCause(err))
	}

	if !m.adoptConn(conn, gen) {
		_ = conn.Close()
	}
	return nil
}

// Disconnect closes the transport and halts any pending reconnection. The
// desired subscription set is preserved, so a later Connect resumes the same
// feeds.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	conn := m.conn
	cancel := m.sessionCancel
	m.conn = nil
	m.sessionCancel = nil
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	m.attempts = 0
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		m.fireDisconnect(nil)
	}
}

// Subscribe records the subscription and, when connected, sends the subscribe
// frame immediately. Repeated identical subscriptions are no-ops. The desired
// set is always updated first so a subscription placed while connecting is
// replayed once the transport opens.
func (m *Manager) Subscribe(sub Subscription) error {
	m.mu.Lock()
	key := sub.key()
	if _, exists := m.subs[key]; exists {
		m.mu.Unlock()
		return nil
	}
	m.subs[key] = sub
	m.subOrder = append(m.subOrder, key)
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected && conn != nil {
		return m.sendRequest(conn, "subscribe", sub)
	}
	return nil
}

// Unsubscribe removes the subscription from the desired set and, when
// connected, sends the unsubscribe frame. Unknown subscriptions are no-ops.
func (m *Manager) Unsubscribe(sub Subscription) error {
	m.mu.Lock()
	key := sub.key()
	if _, exists := m.subs[key]; !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.subs, key)
	for i, k := range m.subOrder {
		if k == key {
			m.subOrder = append(m.subOrder[:i], m.subOrder[i+1:]...)
			break
		}
	}
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected && conn != nil {
		return m.sendRequest(conn, "unsubscribe", sub)
	}
	return nil
}

// SubscribeAllKnownMarkets subscribes to the trades channel for every market
// known to the registry, or for a fixed well-known set when the registry is
// still empty. The first send failure is returned; bookkeeping for the
// remaining coins still happens.
func (m *Manager) SubscribeAllKnownMarkets() error {
	if m.markets == nil {
		return nil
	}
	var firstErr error
	for _, coin := range m.markets.CoinsOrFallback() {
		if err := m.Subscribe(Subscription{Channel: ChannelTrades, Coin: coin}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// adoptConn installs a freshly dialed transport: replays the desired
// subscription set, starts the read loop and fires onConnect. Returns false
// when the generation has moved on (explicit disconnect or a newer connect
// won), in which case the caller owns closing conn.
func (m *Manager) adoptConn(conn Conn, gen uint64) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	m.generation++
	sessionGen := m.generation
	sessionCtx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.sessionCancel = cancel
	m.sessionID = uuid.NewString()
	sessionID := m.sessionID
	m.state = StateConnected
	m.attempts = 0
	replay := make([]Subscription, 0, len(m.subOrder))
	for _, key := range m.subOrder {
		replay = append(replay, m.subs[key])
	}
	m.mu.Unlock()

	observability.Log().Info("stream connected",
		observability.F("session", sessionID),
		observability.F("subscriptions", len(replay)),
	)

	for _, sub := range replay {
		if err := m.sendRequest(conn, "subscribe", sub); err != nil {
			// The read loop will observe the broken transport and drive the
			// usual close/reconnect path.
			observability.Log().Error("replay subscription failed",
				observability.F("session", sessionID),
				observability.F("error", err),
			)
			break
		}
	}

	go m.readLoop(sessionCtx, conn, sessionGen, sessionID)

	m.listenerMu.RLock()
	listeners := m.onConnect
	m.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
	return true
}

func (m *Manager) readLoop(ctx context.Context, conn Conn, gen uint64, sessionID string) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Caller-initiated teardown; Disconnect handles callbacks.
				return
			}
			m.handleStreamFailure(conn, gen, sessionID, err)
			return
		}
		m.metrics.addFrames(1)
		m.dispatch(data)
	}
}

func (m *Manager) handleStreamFailure(conn Conn, gen uint64, sessionID string, cause error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCancel = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	_ = conn.Close()

	observability.Log().Error("stream closed unexpectedly",
		observability.F("session", sessionID),
		observability.F("error", cause),
	)

	m.fireError(cause)
	m.fireDisconnect(cause)

	go m.reconnectLoop(gen)
}

// reconnectLoop retries the transport with exponential backoff until it
// succeeds, the attempt budget is exhausted, or the generation moves on.
func (m *Manager) reconnectLoop(gen uint64) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.BaseDelay
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = m.cfg.MaxDelay

	for {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		if m.attempts >= m.cfg.MaxAttempts {
			// Terminal until a caller intervenes with Connect.
			m.state = StateDisconnected
			attempts := m.attempts
			m.mu.Unlock()
			observability.Log().Error("reconnect budget exhausted",
				observability.F("attempts", attempts),
			)
			return
		}
		m.attempts++
		attempt := m.attempts
		m.state = StateConnecting
		m.mu.Unlock()

		m.metrics.addReconnect()
		delay := policy.NextBackOff()
		observability.Log().Info("reconnecting",
			observability.F("attempt", attempt),
			observability.F("max", m.cfg.MaxAttempts),
			observability.F("delay", delay),
		)
		time.Sleep(delay)

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		conn, err := m.dialer(context.Background(), m.cfg.URL)
		if err != nil {
			m.mu.Lock()
			if gen != m.generation {
				m.mu.Unlock()
				return
			}
			m.state = StateDisconnected
			m.mu.Unlock()
			m.fireError(err)
			continue
		}

		if !m.adoptConn(conn, gen) {
			_ = conn.Close()
		}
		return
	}
}

func (m *Manager) sendRequest(conn Conn, method string, sub Subscription) error {
	req := wsRequest{
		Method: method,
		Subscription: wsSubscription{
			Type: string(sub.Channel),
			Coin: sub.Coin,
		},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("marshal "+method), errs.WithCause(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		return errs.New(component, errs.CodeNetwork, errs.WithMessage(method+" "+sub.key()), errs.WithCause(err))
	}
	return nil
}

// dispatch classifies one inbound frame and fans it out to the listeners of
// its category. Unrecognized channels and undecodable payloads are dropped.
func (m *Manager) dispatch(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.metrics.addDropped(1)
		observability.Log().Debug("undecodable frame", observability.F("error", err))
		return
	}

	switch Channel(env.Channel) {
	case ChannelTrades:
		m.dispatchTrades(env.Data)
	case ChannelAllMids:
		var payload allMidsData
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			m.metrics.addDropped(1)
			observability.Log().Debug("undecodable allMids frame", observability.F("error", err))
			return
		}
		m.listenerMu.RLock()
		listeners := m.onMids
		m.listenerMu.RUnlock()
		for _, fn := range listeners {
			fn(payload.Mids)
		}
	case ChannelBook:
		var book schema.Book
		if err := json.Unmarshal(env.Data, &book); err != nil {
			m.metrics.addDropped(1)
			observability.Log().Debug("undecodable l2Book frame", observability.F("error", err))
			return
		}
		m.listenerMu.RLock()
		listeners := m.onBook
		m.listenerMu.RUnlock()
		for _, fn := range listeners {
			fn(book)
		}
	case Channel(channelSubscriptionAck):
		// Observed for diagnostics only; no listener callbacks.
		observability.Log().Debug("subscription acknowledged")
	default:
		m.metrics.addDropped(1)
		observability.Log().Debug("unrecognized channel", observability.F("channel", env.Channel))
	}
}

// dispatchTrades normalizes the trades payload, which may be a single record
// or an array, into individual deliveries in original order.
func (m *Manager) dispatchTrades(data json.RawMessage) {
	var batch []schema.Trade
	if err := json.Unmarshal(data, &batch); err != nil {
		var single schema.Trade
		if err := json.Unmarshal(data, &single); err != nil {
			m.metrics.addDropped(1)
			observability.Log().Debug("undecodable trades frame", observability.F("error", err))
			return
		}
		batch = []schema.Trade{single}
	}

	m.metrics.addTrades(int64(len(batch)))
	m.listenerMu.RLock()
	listeners := m.onTrade
	m.listenerMu.RUnlock()
	for _, trade := range batch {
		for _, fn := range listeners {
			fn(trade)
		}
	}
}

func (m *Manager) fireDisconnect(cause error) {
	m.listenerMu.RLock()
	listeners := m.onDisconnect
	m.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(cause)
	}
}

func (m *Manager) fireError(cause error) {
	m.listenerMu.RLock()
	listeners := m.onError
	m.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(cause)
	}
}
