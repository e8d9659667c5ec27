package router

import (
	"sort"
	"strings"
	"unicode"

	kit "hitgrab/internal/transport"
)

const (
	maxMenuCommands = 100
	maxMenuDesc     = 256
)

// sanitizeTelegramCommand maps a route or alias onto Telegram's command
// alphabet [a-z0-9_]{1,32}. Commands must start with a letter.
func sanitizeTelegramCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	under := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			under = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !under {
				b.WriteByte('_')
				under = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a route into one command name:
//
//	["group","start"] -> "group_start"
//	["ham-off"]       -> "ham_off"
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

type menuEntry struct {
	cmd  string
	desc string
	prio int
}

// buildTelegramMenuCommands lists top-level commands first, then shortcuts
// for multi-token routes.
func buildTelegramMenuCommands(root *cmdNode, leafCmds []Command) []kit.BotCommand {
	byCmd := map[string]menuEntry{}
	add := func(cmd, desc string, lock bool, prio int) {
		cmd = sanitizeTelegramCommand(cmd)
		if cmd == "" {
			return
		}
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		if lock {
			desc = "🔒 " + desc
		}
		if len(desc) > maxMenuDesc {
			desc = desc[:maxMenuDesc]
		}
		if cur, ok := byCmd[cmd]; ok && cur.prio <= prio {
			return
		}
		byCmd[cmd] = menuEntry{cmd: cmd, desc: desc, prio: prio}
	}

	for _, name := range root.names() {
		n := root.kids[name]
		add(name, n.summary(), n.ownerOnly(), 0)
	}
	for _, c := range leafCmds {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		menu, ok := telegramCommandNameFromRoute(route)
		if !ok {
			continue
		}
		desc := c.Description
		if strings.TrimSpace(desc) == "" {
			desc = strings.Join(route, " ")
		}
		add(menu, desc, c.Access == AccessOwnerOnly, 1)
	}

	entries := make([]menuEntry, 0, len(byCmd))
	for _, e := range byCmd {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].prio != entries[j].prio {
			return entries[i].prio < entries[j].prio
		}
		return entries[i].cmd < entries[j].cmd
	})
	if len(entries) > maxMenuCommands {
		entries = entries[:maxMenuCommands]
	}
	out := make([]kit.BotCommand, 0, len(entries))
	for _, e := range entries {
		out = append(out, kit.BotCommand{Command: e.cmd, Description: e.desc})
	}
	return out
}
