// Package router turns chat messages into command invocations: it resolves
// routes and aliases, enforces owner access and runs handlers on a bounded
// worker pool behind the middleware chain.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "hitgrab/internal/runtime/supervisor"
	"hitgrab/internal/storage"
	kit "hitgrab/internal/transport"
	logx "hitgrab/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "jobs" or "group start".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["gs"]
	Description string
	Usage       string
	Access      Access

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Path         []string // matched command path tokens
	Command      string
	Args         []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends plain text back to the requesting chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends text with Telegram HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

// Flag returns a string flag by any of its names.
func (r *Request) Flag(names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := r.Flags[n]; ok {
			return v, true
		}
	}
	return "", false
}

// Bool reports whether any of the named bool flags is set.
func (r *Request) Bool(names ...string) bool {
	for _, n := range names {
		if r.BoolFlags[n] {
			return true
		}
	}
	return false
}

// Auditor records every executed command.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type CommandManager struct {
	mu sync.RWMutex

	tree *cmdTree
	menu []kit.BotCommand

	owners []int64

	log     logx.Logger
	sender  kit.Sender
	auditor Auditor
	workers int

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, sender kit.Sender, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		tree:    newCmdTree(),
		log:     log,
		sender:  sender,
		owners:  append([]int64(nil), owners...),
		workers: 2,
		jobs:    make(chan func(), 64),
	}
}

// SetAuditor enables the audit middleware. Call before DispatchLoop.
func (m *CommandManager) SetAuditor(a Auditor) { m.auditor = a }

// SetOwners updates the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

// SetRegistry replaces the command set. help is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [cmd] [sub...]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	})

	tree := newCmdTree()
	menuCandidates := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if tree.insert(c) {
			menuCandidates = append(menuCandidates, c)
		}
	}
	menu := buildTelegramMenuCommands(tree.root, menuCandidates)

	m.mu.Lock()
	m.tree = tree
	m.menu = menu
	m.mu.Unlock()

	m.runMu.Lock()
	sup := m.sup
	m.runMu.Unlock()
	if sup != nil {
		m.pushMenu(sup)
	}
}

func (m *CommandManager) pushMenu(sup *rtsup.Supervisor) {
	up, ok := m.sender.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	m.mu.RLock()
	menu := m.menu
	m.mu.RUnlock()
	sup.Go("telegram.menu.update", func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(cctx, menu); err != nil {
			m.log.Debug("menu update failed", logx.Err(err))
		}
		return nil
	})
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup = sup
	m.runMu.Unlock()
	m.pushMenu(sup)

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.runMu.Lock()
		m.sup = nil
		m.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeMessage(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(idx int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	tree := m.tree
	m.mu.RUnlock()

	if cmd, ok := tree.shortcut(word); ok {
		m.enqueueCommand(root, up, cmd, splitRoute(cmd.Route), args)
		return
	}

	cur, path, args := tree.walk(word, args)
	if cur == nil {
		_, _ = m.sender.SendText(root, chat, "unknown command, try /help", nil)
		return
	}
	if cur.cmd == nil {
		_, _ = m.sender.SendText(root, chat, m.helpText(path), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		return
	}
	m.enqueueCommand(root, up, *cur.cmd, path, args)
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, path []string, raw []string) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, m.ownersSnapshot()) {
		m.log.Warn("unauthorized command", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Route))
		_, _ = m.sender.SendText(root, chat, "unauthorized", nil)
		return
	}

	pos, flags, bools := parseFlags(raw)
	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Path:         path,
		Command:      cmd.Route,
		Args:         pos,
		RawArgs:      raw,
		Flags:        flags,
		BoolFlags:    bools,
		ReqID:        rid,
		Sender:       m.sender,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	mws := []Middleware{MWPanicRecover(m.log), MWRequestLog(m.log)}
	if m.auditor != nil {
		mws = append(mws, MWAudit(m.auditor))
	}
	mws = append(mws, MWReplyError(), MWTimeout(cmd.Timeout))
	final := Chain(cmd.Handle, mws...)

	select {
	case m.jobs <- func() { _ = final(root, req) }:
	default:
		_, _ = m.sender.SendText(root, chat, "busy, try again", nil)
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
