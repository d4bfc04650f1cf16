package wall

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/cafu47/streamwall/telemetry"
)

// State is the Manager's lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateActive
	StateOfflineChecking
	StateAutoHosting
	StateAwaitingManualChoice
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateOfflineChecking:
		return "offline_checking"
	case StateAutoHosting:
		return "auto_hosting"
	case StateAwaitingManualChoice:
		return "awaiting_manual_choice"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrClosed is returned by Manager calls made after Run has returned.
var ErrClosed = errors.New("wall: manager closed")

// Switcher labels.
const (
	labelFinding    = "Finding related live channels..."
	labelRelated    = "Related live channels:"
	labelPopular    = "Popular channels:"
	labelNone       = "Could not find related live channels."
	genericInitFail = "Could not load that stream. Try another channel or video."
)

// Options configures a Manager.
type Options struct {
	// Home is the operator's default target, always a primary channel.
	Home Target
	// Family lists channels pre-approved for auto-hosting, in priority order.
	Family []string
	// Fallback is the static popular list used when no suggestions are known.
	Fallback []Suggestion

	NewHandle HandleFactory
	Resolver  Resolver
	History   History

	Monitor MonitorOptions
	// HomeRecheck is how often the home channel is re-checked while
	// auto-hosting (default 60s).
	HomeRecheck time.Duration
	// InitTimeout bounds how long a Handle may take to become ready
	// (default 20s).
	InitTimeout time.Duration

	// ShowChat is the page's chat preference; chat is only ever shown for
	// the primary platform.
	ShowChat bool
	// EmbedParents are the parent domains the primary player is embedded under.
	EmbedParents []string

	Logger *slog.Logger
}

// SwitcherView is the projection of the "pick another channel" UI.
type SwitcherView struct {
	Visible     bool         `json:"visible"`
	Current     string       `json:"current,omitempty"`
	Label       string       `json:"label,omitempty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	Loading     bool         `json:"loading,omitempty"`
	FieldError  string       `json:"fieldError,omitempty"`
}

// View is everything the page needs to render. The page never feeds anything
// from it back as logic input.
type View struct {
	Version     uint64       `json:"version"`
	State       State        `json:"state"`
	Status      string       `json:"status"`
	Target      Target       `json:"target"`
	Fragment    string       `json:"fragment"`
	HistoryOp   HistoryOp    `json:"historyOp,omitempty"`
	HistorySeq  uint64       `json:"historySeq,omitempty"`
	Hosting     string       `json:"hosting,omitempty"`
	Switcher    SwitcherView `json:"switcher"`
	ChatVisible bool         `json:"chatVisible"`
	Error       string       `json:"error,omitempty"`
	Parents     []string     `json:"parents,omitempty"`
}

type activation struct {
	reason   string
	writeURL bool
	push     bool
	hosting  *FamilyMember
}

// Manager is the channel/platform state machine. All of its state is owned by
// the goroutine running Run; every public method posts work to it.
type Manager struct {
	opts Options
	log  *slog.Logger
	sync *Synchronizer

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}

	ctx context.Context
	wg  sync.WaitGroup

	// loop-owned
	state           State
	current         Target
	hosting         *FamilyMember
	bannerDismissed bool
	lastStatus      Status
	handle          Handle
	monitor         *Monitor
	stopMonitor     func()
	cancelInit      context.CancelFunc
	stopRecheck     context.CancelFunc
	session         uint64
	resolveGen      uint64
	switcherGen     uint64
	switcher        SwitcherView
	userError       string

	vmu     sync.RWMutex
	view    View
	subs    map[chan View]struct{}
	version uint64
}

// NewManager returns a Manager; call Run to start it.
func NewManager(opts Options) *Manager {
	if opts.HomeRecheck <= 0 {
		opts.HomeRecheck = 60 * time.Second
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 20 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = NewMemoryHistory("")
	}
	opts.Monitor.Logger = opts.Logger
	m := &Manager{
		opts:    opts,
		log:     opts.Logger.With(slog.String("component", "embed_manager")),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		current: opts.Home,
		subs:    make(map[chan View]struct{}),
	}
	m.sync = NewSynchronizer(opts.Home, opts.History)
	m.sync.OnChange(func(t Target, fromNavigation bool) {
		if fromNavigation {
			m.activate(t, activation{reason: "navigation"})
		}
	})
	m.view = m.buildView()
	return m
}

// Run drives the state machine until ctx is done. The active Handle is torn
// down before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.ctx = ctx
	defer func() {
		cancel()
		m.teardownHandle()
		m.wg.Wait()
		close(m.done)
		m.closeSubscribers()
	}()

	m.initialize()
	m.publish()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
			for _, fn := range m.drain() {
				fn()
			}
			m.publish()
		}
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Submit applies a manual switch from the switcher input. Invalid input
// returns a *ValidationError and leaves the current target alone.
func (m *Manager) Submit(ctx context.Context, input string) error {
	reply := make(chan error, 1)
	m.post(func() { reply <- m.submit(input) })
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Navigate reports that the browser moved to fragment via back/forward.
func (m *Manager) Navigate(fragment string) {
	m.post(func() { m.sync.Navigated(fragment) })
}

// ReportPlaying forwards a native "playing" event from the page's player.
func (m *Manager) ReportPlaying() {
	m.post(func() {
		if m.monitor != nil {
			m.monitor.MarkOnline()
		}
	})
}

// OpenSwitcher is the "change channel" button: it hides the hosting banner
// and shows the switcher.
func (m *Manager) OpenSwitcher() {
	m.post(func() {
		m.bannerDismissed = true
		m.showSwitcher(nil, false)
	})
}

// View returns the latest published view.
func (m *Manager) View() View {
	m.vmu.RLock()
	defer m.vmu.RUnlock()
	return m.view
}

// Subscribe returns a channel receiving every newly published view, starting
// with the current one. Slow readers only ever see the latest view.
func (m *Manager) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	m.vmu.Lock()
	select {
	case <-m.done:
		m.vmu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	ch <- m.view
	m.subs[ch] = struct{}{}
	m.vmu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.vmu.Lock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
			m.vmu.Unlock()
		})
	}
}

func (m *Manager) post(fn func()) {
	m.qmu.Lock()
	m.queue = append(m.queue, fn)
	m.qmu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) drain() []func() {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

func (m *Manager) initialize() {
	target := m.opts.Home
	if t, ok := m.sync.Current(); ok {
		target = t
	}
	m.log.Info("initializing", slog.String("target", target.String()))
	m.activate(target, activation{reason: "initial", writeURL: true})
}

// activate tears down the current Handle and starts one for t. Activating the
// target that is already up is a no-op.
func (m *Manager) activate(t Target, a activation) {
	if t == m.current && m.handle != nil {
		return
	}
	m.teardownHandle()
	m.session++
	m.resolveGen++
	m.current = t
	m.hosting = a.hosting
	m.bannerDismissed = false
	m.userError = ""
	m.switcher = SwitcherView{}
	m.state = StateInitializing
	if a.writeURL {
		m.sync.SetTarget(t, a.push)
	}
	telemetry.RecordSwitch(a.reason)
	m.log.Info("switching target", slog.String("target", t.String()), slog.String("reason", a.reason))

	h, err := m.opts.NewHandle(t.Platform)
	if err != nil {
		m.initFailed(err)
		return
	}
	m.handle = h
	gen := m.session
	initCtx, cancel := context.WithTimeout(m.ctx, m.opts.InitTimeout)
	m.cancelInit = cancel
	m.spawn(func() {
		err := h.Init(initCtx, t.ID)
		m.post(func() { m.initDone(gen, err) })
	})
}

func (m *Manager) initDone(gen uint64, err error) {
	if gen != m.session {
		return
	}
	if m.cancelInit != nil {
		m.cancelInit()
		m.cancelInit = nil
	}
	if err != nil {
		m.handle.Destroy()
		m.handle = nil
		m.initFailed(err)
		return
	}
	if m.hosting != nil {
		m.state = StateAutoHosting
		m.startRecheck(gen)
	} else {
		m.state = StateActive
	}
	if m.current.Platform != PlatformTwitch {
		return
	}
	opts := m.opts.Monitor
	opts.Initial = m.lastStatus
	mon := NewMonitor(opts)
	mon.OnStatusChange(func(s Status) {
		m.post(func() { m.statusChanged(gen, s) })
	})
	m.monitor = mon
	m.stopMonitor = mon.Observe(m.ctx, m.handle)
	// A ready player counts as playing.
	mon.MarkOnline()
}

func (m *Manager) initFailed(err error) {
	m.log.Error("failed to initialize player", slog.String("target", m.current.String()), slog.Any("err", err))
	m.userError = userMessage(err)
	m.enterManualChoice(nil, false)
}

func (m *Manager) teardownHandle() {
	if m.cancelInit != nil {
		m.cancelInit()
		m.cancelInit = nil
	}
	if m.stopRecheck != nil {
		m.stopRecheck()
		m.stopRecheck = nil
	}
	if m.stopMonitor != nil {
		m.stopMonitor()
		m.stopMonitor = nil
	}
	m.monitor = nil
	if m.handle != nil {
		m.handle.Destroy()
		m.handle = nil
	}
}

func (m *Manager) statusChanged(gen uint64, s Status) {
	if gen != m.session {
		return
	}
	m.lastStatus = s
	telemetry.RecordStatus(s.String())
	if m.current.Platform != PlatformTwitch {
		return
	}
	if s == StatusOffline {
		m.handleOffline()
		return
	}
	m.handleOnline()
}

func (m *Manager) handleOffline() {
	if m.current != m.opts.Home && m.hosting == nil && !m.isFamily(m.current.ID) {
		// The viewer picked this channel; don't second-guess them.
		m.enterManualChoice(nil, false)
		return
	}
	m.state = StateOfflineChecking
	m.resolveGen++
	gen, rg := m.session, m.resolveGen
	home, family := m.opts.Home.ID, m.opts.Family
	m.spawn(func() {
		res := m.opts.Resolver.CheckMainAndFamily(m.ctx, home, family)
		m.post(func() { m.familyChecked(gen, rg, res) })
	})
}

func (m *Manager) familyChecked(gen, rg uint64, res FamilyCheck) {
	if gen != m.session || rg != m.resolveGen {
		m.log.Debug("dropping stale auto-host result")
		return
	}
	if res.OK && res.MainLive {
		if m.current != m.opts.Home {
			m.activate(m.opts.Home, activation{reason: "return_home", writeURL: true})
			return
		}
		m.state = StateActive
		return
	}
	if c := res.LiveFamilyMember; c != nil {
		login, err := ValidateChannel(c.Channel)
		if err == nil && login != m.current.ID {
			label := c.DisplayName
			if label == "" {
				label = login
			}
			m.activate(Channel(login), activation{
				reason:  "autohost",
				hosting: &FamilyMember{Channel: login, DisplayName: label},
			})
			return
		}
	}
	m.enterManualChoice(res.Suggestions, true)
}

func (m *Manager) handleOnline() {
	if m.hosting != nil && m.current != m.opts.Home {
		m.checkHome()
		return
	}
	// Drop any offline decision or suggestion load still in flight.
	m.resolveGen++
	m.switcherGen++
	m.switcher = SwitcherView{}
	if m.state == StateOfflineChecking || m.state == StateAwaitingManualChoice {
		m.state = StateActive
	}
}

func (m *Manager) checkHome() {
	m.resolveGen++
	gen, rg := m.session, m.resolveGen
	home, host := m.opts.Home.ID, m.current.ID
	m.spawn(func() {
		res := m.opts.Resolver.CheckHost(m.ctx, home, host)
		m.post(func() { m.homeChecked(gen, rg, res) })
	})
}

func (m *Manager) homeChecked(gen, rg uint64, res HostCheck) {
	if gen != m.session || rg != m.resolveGen {
		return
	}
	if res.OK && res.MainLive {
		m.activate(m.opts.Home, activation{reason: "return_home", writeURL: true})
		return
	}
	if res.OK && !res.HostLive && m.hosting != nil {
		m.log.Info("hosted channel went offline", slog.String("host", m.current.ID))
		m.handleOffline()
		return
	}
	m.log.Debug("home channel not live yet; still hosting", slog.String("host", m.current.ID))
}

func (m *Manager) startRecheck(gen uint64) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.stopRecheck = cancel
	every := m.opts.HomeRecheck
	m.spawn(func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.post(func() {
					if gen == m.session && m.hosting != nil && m.state == StateAutoHosting {
						m.checkHome()
					}
				})
			}
		}
	})
}

func (m *Manager) submit(input string) error {
	t, err := ParseInput(input)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			m.switcher.FieldError = ve.Message
		}
		return err
	}
	if t == m.current && m.handle != nil {
		return nil
	}
	m.activate(t, activation{reason: "manual", writeURL: true, push: true})
	return nil
}

// enterManualChoice hands control to the viewer. Whatever was auto-hosted
// is no longer hosted, so its banner goes too.
func (m *Manager) enterManualChoice(suggestions []Suggestion, fetched bool) {
	m.state = StateAwaitingManualChoice
	m.hosting = nil
	if m.stopRecheck != nil {
		m.stopRecheck()
		m.stopRecheck = nil
	}
	m.showSwitcher(suggestions, fetched)
}

// showSwitcher opens the switcher. Unless suggestions were already fetched
// they are loaded asynchronously for the current channel.
func (m *Manager) showSwitcher(suggestions []Suggestion, fetched bool) {
	m.switcher.Visible = true
	m.switcher.FieldError = ""
	m.switcher.Current = m.current.ID
	if m.current.Platform == PlatformYouTube {
		m.switcher.Current = "YouTube: " + m.current.ID
		m.setSuggestions(nil)
		return
	}
	if fetched {
		m.setSuggestions(suggestions)
		return
	}
	m.switcher.Label = labelFinding
	m.switcher.Loading = true
	m.switcher.Suggestions = nil
	m.switcherGen++
	gen, sg := m.session, m.switcherGen
	channel := m.current.ID
	m.spawn(func() {
		res := m.opts.Resolver.CheckMainAndFamily(m.ctx, channel, nil)
		m.post(func() {
			if gen != m.session || sg != m.switcherGen || !m.switcher.Visible {
				return
			}
			m.setSuggestions(res.Suggestions)
		})
	})
}

func (m *Manager) setSuggestions(s []Suggestion) {
	m.switcher.Loading = false
	if len(s) > 0 {
		m.switcher.Label = labelRelated
		m.switcher.Suggestions = s
		return
	}
	if len(m.opts.Fallback) == 0 {
		m.switcher.Label = labelNone
		m.switcher.Suggestions = nil
		return
	}
	m.switcher.Label = labelPopular
	m.switcher.Suggestions = m.opts.Fallback
}

func (m *Manager) isFamily(login string) bool {
	for _, f := range m.opts.Family {
		if strings.EqualFold(f, login) {
			return true
		}
	}
	return false
}

func (m *Manager) buildView() View {
	v := View{
		State:       m.state,
		Status:      m.lastStatus.String(),
		Target:      m.current,
		Fragment:    m.opts.History.Fragment(),
		Switcher:    m.switcher,
		ChatVisible: m.opts.ShowChat && m.current.Platform == PlatformTwitch,
		Error:       m.userError,
		Parents:     m.opts.EmbedParents,
	}
	if lw, ok := m.opts.History.(interface{ LastWrite() (HistoryOp, uint64) }); ok {
		v.HistoryOp, v.HistorySeq = lw.LastWrite()
	}
	if m.hosting != nil && !m.bannerDismissed {
		v.Hosting = m.hosting.DisplayName
	}
	return v
}

func (m *Manager) publish() {
	v := m.buildView()
	m.vmu.Lock()
	defer m.vmu.Unlock()
	v.Version = m.view.Version
	if reflect.DeepEqual(v, m.view) {
		return
	}
	m.version++
	v.Version = m.version
	m.view = v
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (m *Manager) closeSubscribers() {
	m.vmu.Lock()
	defer m.vmu.Unlock()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
}

// userMessage picks what a viewer sees for a failed player init.
func userMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The player took too long to load. Try again or pick another stream."
	}
	return genericInitFail
}
