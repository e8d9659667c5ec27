package router

import (
	"sort"
	"strings"
)

// cmdNode is one token of a command route. A node with a nil cmd is a
// group that only holds subcommands.
type cmdNode struct {
	cmd  *Command
	kids map[string]*cmdNode
}

func (n *cmdNode) sub(name string) (*cmdNode, bool) {
	if n == nil {
		return nil, false
	}
	k, ok := n.kids[name]
	return k, ok
}

func (n *cmdNode) names() []string {
	out := make([]string, 0, len(n.kids))
	for k := range n.kids {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ownerOnly holds for an owner-only command, and for a group whose every
// command is owner-only.
func (n *cmdNode) ownerOnly() bool {
	switch {
	case n == nil:
		return false
	case n.cmd != nil:
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, k := range n.kids {
		if !k.ownerOnly() {
			return false
		}
	}
	return true
}

// summary is the one-line description shown in help and the bot menu.
func (n *cmdNode) summary() string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.names()
	switch {
	case len(kids) == 0:
		return ""
	case len(kids) > 3:
		return "subcommands: " + strings.Join(kids[:3], ", ") + ", …"
	}
	return "subcommands: " + strings.Join(kids, ", ")
}

// cmdTree holds the routes and the flat shortcuts that jump straight to a
// leaf. It is rebuilt on every SetRegistry and read-only afterwards.
type cmdTree struct {
	root    *cmdNode
	aliases map[string]*cmdNode
}

func newCmdTree() *cmdTree {
	return &cmdTree{root: &cmdNode{kids: map[string]*cmdNode{}}, aliases: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	return strings.Fields(strings.TrimSpace(route))
}

// insert adds c under its route and registers its shortcuts. A route's own
// menu name never aliases a single-token route, which would hide its
// subcommands. Explicit aliases win over derived menu names.
func (t *cmdTree) insert(c Command) bool {
	route := splitRoute(c.Route)
	if len(route) == 0 || c.Handle == nil {
		return false
	}
	leaf := t.root
	for _, tok := range route {
		next, ok := leaf.kids[tok]
		if !ok {
			next = &cmdNode{kids: map[string]*cmdNode{}}
			leaf.kids[tok] = next
		}
		leaf = next
	}
	leaf.cmd = &c

	soft := func(name string) {
		if _, taken := t.aliases[name]; !taken {
			t.aliases[name] = leaf
		}
	}
	if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
		soft(menu)
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		t.aliases[a] = leaf
		if sa := sanitizeTelegramCommand(a); sa != "" {
			soft(sa)
		}
	}
	return true
}

// shortcut returns the command a flat alias points at.
func (t *cmdTree) shortcut(word string) (Command, bool) {
	leaf, ok := t.aliases[word]
	if !ok || leaf == nil || leaf.cmd == nil {
		return Command{}, false
	}
	return *leaf.cmd, true
}

// walk descends from the top-level word through as many leading args as
// name subcommands. Flags end the descent.
func (t *cmdTree) walk(word string, args []string) (n *cmdNode, path, rest []string) {
	n, ok := t.root.sub(word)
	if !ok {
		return nil, nil, args
	}
	path = []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		next, ok := n.sub(args[0])
		if !ok {
			break
		}
		n = next
		path = append(path, args[0])
		args = args[1:]
	}
	return n, path, args
}

// lookup resolves a help path. An alias anywhere in the path jumps to its
// leaf and ends the lookup.
func (t *cmdTree) lookup(path []string) (*cmdNode, []string, bool) {
	cur := t.root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		if n, ok := cur.sub(p); ok {
			cur = n
			full = append(full, p)
			continue
		}
		c, ok := t.shortcut(p)
		if !ok {
			return nil, nil, false
		}
		return t.aliases[p], splitRoute(c.Route), true
	}
	return cur, full, true
}
