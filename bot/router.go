package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// CommandFunc runs a parsed command.
type CommandFunc func(ctx context.Context, c *Context) error

// Check gates a command; a non-nil error is replied to the invoker.
type Check func(ctx context.Context, c *Context) error

// Command is one prefix command.
type Command struct {
	Name    string
	Aliases []string
	Usage   string
	Help    string
	Checks  []Check
	Run     CommandFunc
}

// Router maps command names and aliases to commands.
type Router struct {
	prefix string
	cmds   map[string]*Command
	all    []*Command
}

func NewRouter(prefix string) *Router {
	return &Router{prefix: prefix, cmds: map[string]*Command{}}
}

// Add registers cmd under its name and aliases. Duplicate names panic.
func (r *Router) Add(cmd *Command) {
	for _, name := range append([]string{cmd.Name}, cmd.Aliases...) {
		if _, dup := r.cmds[name]; dup {
			panic(fmt.Sprintf("bot: command %q registered twice", name))
		}
		r.cmds[name] = cmd
	}
	r.all = append(r.all, cmd)
}

// Commands returns every command sorted by name.
func (r *Router) Commands() []*Command {
	out := append([]*Command(nil), r.all...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse splits a message into the invoked name and the text after it. ok is
// false when the message does not start with the prefix.
func (r *Router) Parse(content string) (name, rest string, ok bool) {
	if r.prefix == "" || !strings.HasPrefix(content, r.prefix) {
		return "", "", false
	}
	body := content[len(r.prefix):]
	end := strings.IndexFunc(body, unicode.IsSpace)
	if end < 0 {
		return body, "", body != ""
	}
	return body[:end], strings.TrimSpace(body[end:]), end > 0
}

// Lookup finds a command by name or alias.
func (r *Router) Lookup(name string) (*Command, bool) {
	cmd, ok := r.cmds[name]
	return cmd, ok
}

// SplitArgs splits on whitespace, keeping double-quoted sections together.
func SplitArgs(s string) []string {
	var (
		args    []string
		cur     strings.Builder
		quoted  bool
		pending bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			pending = true
		case unicode.IsSpace(r) && !quoted:
			if pending {
				args = append(args, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteRune(r)
			pending = true
		}
	}
	if pending {
		args = append(args, cur.String())
	}
	return args
}
