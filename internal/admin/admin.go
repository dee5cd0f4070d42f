// Package admin maps the textual commands an external administrative
// front end sends (a terminal UI, a CLI, a dashboard) onto backend manager
// operations. It is the one side of the "command/event channel" contract:
// admin commands flow in through Dispatch, lifecycle events flow out
// through adminbus.
package admin

import (
	"context"
	"runtime"
	"strconv"
	"strings"

	"github.com/nilsbr/rushd/internal/backend"
)

// bulkYieldChunk bounds how many sequential sub-operations a bulk command
// runs before yielding the scheduler, so a large "start 1-500" can't starve
// other administrative commands issued concurrently.
const bulkYieldChunk = 16

// Result is the outcome of one dispatched command, intended for direct
// rendering by the caller (CLI output, dashboard toast, log line).
type Result struct {
	Command  string
	OK       bool
	Message  string
	Backends []backend.Backend
}

// Dispatch parses and executes one command line against m. Recognized
// commands: "create <name> [tls] [autostart]", "start <selector>",
// "stop <selector>", "delete <selector>", "cleanup <stopped|failed|all>",
// "import <manifest.yaml>", "list". Unknown commands return a Result with
// OK=false rather than an error, since a malformed admin command is
// operator input, not a program fault.
func Dispatch(ctx context.Context, m *backend.Manager, line string) Result {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Result{Command: line, OK: false, Message: "empty command"}
	}

	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "create":
		return dispatchCreate(m, line, args)
	case "start":
		return dispatchBulk(ctx, m, line, args, m.Start)
	case "stop":
		return dispatchBulk(ctx, m, line, args, m.Stop)
	case "delete":
		return dispatchBulk(ctx, m, line, args, m.Delete)
	case "cleanup":
		return dispatchCleanup(ctx, m, line, args)
	case "import":
		return DispatchImport(ctx, m, line, args)
	case "list":
		return Result{Command: line, OK: true, Backends: m.List()}
	default:
		return Result{Command: line, OK: false, Message: "unknown command: " + verb}
	}
}

func dispatchCreate(m *backend.Manager, line string, args []string) Result {
	if len(args) == 0 {
		return Result{Command: line, OK: false, Message: "create requires a name"}
	}
	name := args[0]
	var useTLS, autoStart bool
	for _, flag := range args[1:] {
		switch strings.ToLower(flag) {
		case "tls":
			useTLS = true
		case "autostart":
			autoStart = true
		}
	}

	b, err := m.Create(name, "", useTLS)
	if err != nil {
		return Result{Command: line, OK: false, Message: err.Error()}
	}
	if autoStart {
		if err := m.SetAutoStart(b.ID, true); err != nil {
			return Result{Command: line, OK: false, Message: err.Error()}
		}
		b.AutoStart = true
	}
	return Result{Command: line, OK: true, Backends: []backend.Backend{b}}
}

func dispatchCleanup(ctx context.Context, m *backend.Manager, line string, args []string) Result {
	if len(args) == 0 {
		return Result{Command: line, OK: false, Message: "cleanup requires a scope: stopped, failed, or all"}
	}
	scope := backend.CleanupScope(strings.ToLower(args[0]))
	n, err := m.Cleanup(ctx, scope)
	if err != nil {
		return Result{Command: line, OK: false, Message: err.Error()}
	}
	return Result{Command: line, OK: true, Message: "removed " + strconv.Itoa(n) + " record(s)"}
}

// dispatchBulk resolves args[0] as a selector and applies op to every
// matched backend in creation order, yielding the scheduler every
// bulkYieldChunk operations so a large bulk command shares the runtime
// fairly with other administrative traffic.
func dispatchBulk(ctx context.Context, m *backend.Manager, line string, args []string, op func(context.Context, string) error) Result {
	if len(args) == 0 {
		return Result{Command: line, OK: false, Message: "selector required"}
	}

	matched, err := backend.Resolve(m.List(), args[0])
	if err != nil {
		return Result{Command: line, OK: false, Message: err.Error()}
	}

	var failed []string
	for i, b := range matched {
		if err := op(ctx, b.ID); err != nil {
			failed = append(failed, b.Name+": "+err.Error())
		}
		if (i+1)%bulkYieldChunk == 0 {
			runtime.Gosched()
		}
	}

	result := Result{Command: line, OK: len(failed) == 0, Backends: matched}
	if len(failed) > 0 {
		result.Message = strings.Join(failed, "; ")
	}
	return result
}
