package router

import (
	"sort"
	"strings"

	"hitgrab/pkg/tgui"
)

// helpText renders help for path in Telegram HTML parse mode.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	tree := m.tree
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(tree.root)
	}
	cur, full, ok := tree.lookup(path)
	if !ok {
		return "❓ <b>Unknown command</b>\nSend <code>/help</code> for the command list."
	}
	return helpNode(cur, full)
}

func helpLine(cmd, desc string, lock bool) string {
	line := "• "
	if lock {
		line += "🔒 "
	}
	line += tgui.Code(cmd).String()
	if desc != "" {
		line += " - " + tgui.Esc(desc).String()
	}
	return line
}

func helpTop(root *cmdNode) string {
	names := root.names()
	// owner-only last, alphabetical within
	sort.SliceStable(names, func(i, j int) bool {
		return !root.kids[names[i]].ownerOnly() && root.kids[names[j]].ownerOnly()
	})
	lines := []string{"📚 <b>Commands</b>", "Send <code>/help &lt;cmd&gt;</code> for details.", ""}
	for _, name := range names {
		n := root.kids[name]
		lines = append(lines, helpLine("/"+name, n.summary(), n.ownerOnly()))
	}
	return strings.Join(lines, "\n")
}

func helpNode(cur *cmdNode, full []string) string {
	lines := []string{"📚 <b>Help</b> " + tgui.Code("/"+strings.Join(full, " ")).String()}
	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, tgui.Esc(d).String())
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>owner only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", tgui.B("Usage").String(), tgui.Pre(u).String())
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			lines = append(lines, "", tgui.B("Shortcuts").String())
			for _, s := range short {
				lines = append(lines, "• "+tgui.Code("/"+s).String())
			}
		}
	} else {
		lines = append(lines, "Command group.")
	}
	if len(cur.kids) > 0 {
		lines = append(lines, "", tgui.B("Subcommands").String())
		for _, name := range cur.names() {
			n := cur.kids[name]
			path := strings.Join(append(append([]string(nil), full...), name), " ")
			lines = append(lines, helpLine("/"+path, n.summary(), n.ownerOnly()))
		}
	}
	return strings.Join(lines, "\n")
}

func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	route := splitRoute(c.Route)
	if menu, ok := telegramCommandNameFromRoute(route); ok && len(route) > 1 {
		seen[menu] = true
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		seen[a] = true
		if sa := sanitizeTelegramCommand(a); sa != "" {
			seen[sa] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
