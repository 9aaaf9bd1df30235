package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "surveybot/internal/runtime/supervisor"
	kit "surveybot/internal/transport"
	"surveybot/pkg/logx"
	"surveybot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "start"
	//   "debug sessions"
	Route       string
	Aliases     []string // root-level aliases, e.g. ["freq"]
	Description string
	Usage       string
	Access      Access

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackAccess controls who can trigger an inline-button callback.
//
// Default is owner-only. Survey buttons set CallbackAccessEveryone explicitly.
type CallbackAccess int

const (
	CallbackAccessOwnerOnly CallbackAccess = iota
	CallbackAccessEveryone
)

// CallbackRoute handles callback data "prefix:action:payload".
type CallbackRoute struct {
	Prefix      string
	Action      string
	Description string
	Access      CallbackAccess
	Timeout     time.Duration
	Handle      CallbackHandlerFunc
}

// TextHandlerFunc receives non-command text and unknown commands.
type TextHandlerFunc func(ctx context.Context, req *Request, text string) error

// InlineHandlerFunc answers inline queries.
type InlineHandlerFunc func(ctx context.Context, req *Request, query string) error

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Locale  string // sender's Telegram language_code, may be empty
	Path    []string
	Command string // route, "cb:prefix:action", "text" or "inline"
	Args    []string
	Payload string // callback payload, tokens already resolved

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string
	Owner     bool

	Adapter kit.Adapter
	Logger  logx.Logger
	Manager *CommandManager

	answered bool
}

// AnswerCallback stops the client's loading indicator with an optional toast.
// The router answers silently for handlers that never call it.
func (r *Request) AnswerCallback(ctx context.Context, text string) error {
	if r.Update.Callback == nil || r.answered {
		return nil
	}
	r.answered = true
	return r.Adapter.AnswerCallback(ctx, r.Update.Callback.ID, text)
}

// Reply sends text to the chat of the request.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

type CommandManager struct {
	mu sync.RWMutex

	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute // prefix -> action -> route
	text      TextHandlerFunc
	inline    InlineHandlerFunc

	owners   []int64
	username string // bot username without '@', lower case

	log     logx.Logger
	adapter kit.Adapter
	tokens  *tgui.TokenStore
	timeout time.Duration

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	menuSup *rtsup.Supervisor

	// One queue per worker; a chat always lands on the same queue so its
	// updates are handled in arrival order.
	jobs []chan func()
}

type Options struct {
	Owners   []int64
	Username string
	Tokens   *tgui.TokenStore
	// Workers defaults to NumCPU (at least 2).
	Workers   int
	QueueSize int
	// Timeout applies to handlers without their own.
	Timeout time.Duration
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	qsize := opt.QueueSize
	if qsize <= 0 {
		qsize = 64
	}
	jobs := make([]chan func(), workers)
	for i := range jobs {
		jobs[i] = make(chan func(), qsize)
	}
	m := &CommandManager{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log,
		adapter:   adapter,
		tokens:    opt.Tokens,
		timeout:   opt.Timeout,
		jobs:      jobs,
	}
	m.SetOwners(opt.Owners)
	m.SetUsername(opt.Username)
	return m
}

// Supervisor returns the command manager's internal supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

// SetMenuSupervisor makes menu updates run under sup so they are cancelled on shutdown.
func (m *CommandManager) SetMenuSupervisor(sup *rtsup.Supervisor) {
	m.runMu.Lock()
	m.menuSup = sup
	m.runMu.Unlock()
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

func shard(key int64, n int) int {
	v := key % int64(n)
	if v < 0 {
		v = -v
	}
	return int(v)
}

// tryEnqueue is a panic-safe enqueue helper (handles the queue being closed).
func (m *CommandManager) tryEnqueue(key int64, fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs[shard(key, len(m.jobs))] <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

// SetUsername sets the bot username used to address commands and mentions in groups.
func (m *CommandManager) SetUsername(name string) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	m.mu.Lock()
	m.username = name
	m.mu.Unlock()
}

func (m *CommandManager) snapshot() (owners []int64, username string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners, m.username
}

// SetFallbacks installs the handlers for plain text and inline queries.
func (m *CommandManager) SetFallbacks(text TextHandlerFunc, inline InlineHandlerFunc) {
	m.cbMu.Lock()
	m.text = text
	m.inline = inline
	m.cbMu.Unlock()
}

func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	hasHelp := false
	for _, c := range cmds {
		if strings.TrimSpace(c.Route) == "help" {
			hasHelp = true
		}
	}
	if !hasHelp {
		cmds = append(cmds, Command{
			Route:       "help",
			Description: "show help",
			Usage:       "/help [cmd]",
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Reply(ctx, m.HelpText(req.Args), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
				return err
			},
		})
	}

	root := newRoot()
	alias := map[string]*cmdNode{}
	menuCandidates := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		menuCandidates = append(menuCandidates, c)

		leaf := root.find(route)
		// Telegram command names are restricted to [a-z0-9_]{1,32}, so
		// "debug sessions" is also reachable as /debug_sessions. The bare
		// single-token name is never aliased: it would short-circuit the tree.
		if menu, ok := menuName(route); ok {
			if len(route) > 1 || menu != route[0] {
				if _, exists := alias[menu]; !exists {
					alias[menu] = leaf
				}
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := commandName(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		p := strings.TrimSpace(r.Prefix)
		a := strings.TrimSpace(r.Action)
		if p == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[p] == nil {
			cb[p] = map[string]CallbackRoute{}
		}
		cb[p][a] = r
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	// Best-effort Telegram /menu autocomplete update (non-blocking).
	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := menuCommands(root, menuCandidates)
		run := func(parent context.Context) {
			ctx, cancel := context.WithTimeout(parent, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}
		m.runMu.Lock()
		sup := m.menuSup
		m.runMu.Unlock()
		if sup != nil {
			sup.Go0("telegram.menu.update", run)
		} else {
			go run(context.Background())
		}
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// It can run only once per CommandManager.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("dispatcher started", logx.Int("workers", len(m.jobs)), logx.Int("queue_cap", cap(m.jobs[0])))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// Mark as not running before closing so enqueue can degrade gracefully.
			m.setSupervisor(sup, false)
			for _, q := range m.jobs {
				close(q)
			}
		})
	}

	for i, q := range m.jobs {
		idx, queue := i, q
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-queue:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in dispatch job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	case kit.UpdateInlineQuery:
		m.routeInline(root, up)
	}
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, locale, command string) *Request {
	owners, _ := m.snapshot()
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Locale:  locale,
		Command: command,
		ReqID:   rid,
		Owner:   isOwner(fromID, owners),
		Adapter: m.adapter,
		Manager: m,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

func (m *CommandManager) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	if timeout <= 0 {
		timeout = m.timeout
	}
	return Chain(h,
		Recover(m.log),
		Timeout(timeout),
		LogRequest(m.log),
	)
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	_, username := m.snapshot()

	if !strings.HasPrefix(text, "/") {
		if msg.IsGroup && !msg.ViaBot {
			// In groups only messages that mention the bot are ours.
			var ok bool
			if text, ok = stripMention(text, username); !ok {
				return
			}
		}
		m.enqueueText(root, up, text)
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if name, target, found := strings.Cut(word, "@"); found {
		if username != "" && !strings.EqualFold(target, username) {
			return // addressed to another bot
		}
		word = name
	}
	word = strings.ToLower(word)
	args := parts[1:]

	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		cmd := *leaf.cmd
		pos, flags, bools := parseFlags(args)
		m.enqueueCommand(root, up, cmd, splitRoute(cmd.Route), pos, args, flags, bools)
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		m.enqueueText(root, up, text)
		return
	}
	cur, sub, args := cur.descend(args)
	path := append([]string{word}, sub...)

	if cur.cmd == nil {
		txt := m.HelpText(path)
		_, _ = m.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, txt, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		return
	}

	cmd := *cur.cmd
	pos, flags, bools := parseFlags(args)
	m.enqueueCommand(root, up, cmd, path, pos, args, flags, bools)
}

// stripMention removes "@username" from text and reports whether it was there.
func stripMention(text, username string) (string, bool) {
	if username == "" {
		return text, false
	}
	lower := strings.ToLower(text)
	i := strings.Index(lower, "@"+username)
	if i < 0 {
		return text, false
	}
	out := text[:i] + text[i+1+len(username):]
	return strings.Join(strings.Fields(out), " "), true
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, path []string, args []string, raw []string, flags map[string]string, bools map[string]bool) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	req := m.newRequest(up, chat, msg.FromID, msg.LanguageCode, cmd.Route)
	if cmd.Access == AccessOwnerOnly && !req.Owner {
		_, _ = m.adapter.SendText(root, chat, "unauthorized", nil)
		return
	}
	req.Path = path
	req.Args = args
	req.RawArgs = raw
	req.Flags = flags
	req.BoolFlags = bools

	final := m.chain(cmd.Handle, cmd.Timeout)
	if !m.tryEnqueue(msg.ChatID, func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, "busy, try again", nil)
	}
}

func (m *CommandManager) enqueueText(root context.Context, up kit.Update, text string) {
	m.cbMu.RLock()
	h := m.text
	m.cbMu.RUnlock()
	if h == nil {
		return
	}
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	req := m.newRequest(up, chat, msg.FromID, msg.LanguageCode, "text")
	final := m.chain(func(ctx context.Context, r *Request) error { return h(ctx, r, text) }, 0)
	if !m.tryEnqueue(msg.ChatID, func() { _ = final(root, req) }) {
		m.log.Warn("text dropped (queue full)", logx.Int64("chat_id", msg.ChatID))
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	prefix, action, payload, ok := tgui.Split(strings.TrimSpace(cb.Data))
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	m.cbMu.RLock()
	route, ok := m.callbacks[prefix][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}
	if m.tokens != nil {
		resolved, found := m.tokens.Resolve(payload)
		if !found {
			_ = m.adapter.AnswerCallback(root, cb.ID, "expired")
			return
		}
		payload = resolved
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.FromID, cb.LanguageCode, "cb:"+prefix+":"+action)
	if route.Access == CallbackAccessOwnerOnly && !req.Owner {
		_ = m.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}
	req.Payload = payload

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := m.chain(h, route.Timeout)
	if !m.tryEnqueue(cb.ChatID, func() {
		_ = final(root, req)
		// stop the client's loading indicator
		_ = req.AnswerCallback(root, "")
	}) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}

func (m *CommandManager) routeInline(root context.Context, up kit.Update) {
	q := up.InlineQuery
	if q == nil {
		return
	}
	m.cbMu.RLock()
	h := m.inline
	m.cbMu.RUnlock()
	if h == nil {
		return
	}
	req := m.newRequest(up, kit.ChatTarget{ChatID: q.FromID}, q.FromID, q.LanguageCode, "inline")
	final := m.chain(func(ctx context.Context, r *Request) error { return h(ctx, r, q.Query) }, 0)
	if !m.tryEnqueue(q.FromID, func() { _ = final(root, req) }) {
		m.log.Debug("inline query dropped (queue full)", logx.Int64("from_id", q.FromID))
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
