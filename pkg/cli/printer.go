package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/tools"
)

var (
	bold   = color.New(color.Bold).SprintfFunc()
	faint  = color.New(color.Faint).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
)

type Printer struct {
	out io.Writer
	tty bool
}

func NewPrinter(out io.Writer) *Printer {
	f, ok := out.(*os.File)
	return &Printer{
		out: out,
		tty: ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())),
	}
}

// IsTerminal reports whether the printer writes to an interactive terminal.
func (p *Printer) IsTerminal() bool {
	return p.tty
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Print(a ...any) {
	fmt.Fprint(p.out, a...)
}

func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// PrintWelcomeMessage prints the welcome message
func (p *Printer) PrintWelcomeMessage(appName, sessionID string) {
	p.Printf("\n------- Welcome to %s! -------\n(Ctrl+C to stop the agent and exit)\n", bold(appName))
	p.Printf("%s\n\n", faint("session %s", sessionID))
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) {
	p.Printf("\n%s\n", red("❌ %s", err))
}

func (p *Printer) PrintThinking(delta string) {
	p.Print(faint("%s", delta))
}

// PrintToolCall prints a tool call
func (p *Printer) PrintToolCall(call tools.ToolCall) {
	p.Printf("\nCalling %s%s\n", bold(call.Name), formatToolCallArguments(call))
}

// PrintToolResult prints the result of a tool call.
func (p *Printer) PrintToolResult(name string, result tools.ToolCallResult) {
	if result.IsError {
		p.Printf("\n%s failed%s\n", bold(name), red("%s", formatToolCallResponse(result.Content)))
		return
	}
	p.Printf("\n%s response%s\n", bold(name), formatToolCallResponse(result.Content))
}

func (p *Printer) PrintMaxTurnsReached(maxTurns int) {
	p.Printf("\n%s\n", yellow("⚠️  Maximum number of turns (%d) reached. The agent may be stuck in a loop.", maxTurns))
}

// PrintSummary prints token usage and elapsed time of a run.
func (p *Printer) PrintSummary(usage chat.Usage, elapsed time.Duration) {
	line := fmt.Sprintf("%s in, %s out", formatTokens(usage.InputTokens), formatTokens(usage.OutputTokens))
	if usage.CachedInputTokens > 0 {
		line += fmt.Sprintf(", %s cached", formatTokens(usage.CachedInputTokens))
	}
	p.Printf("\n%s\n", faint("[%s tokens, %s]", line, units.HumanDuration(elapsed)))
}

// formatTokens shortens large counts, 12500 becomes 12.5k.
func formatTokens(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return units.CustomSize("%.4g%s", float64(n), 1000.0, []string{"", "k", "M", "G"})
}

// formatToolCallArguments prefers the raw JSON the model sent, which keeps
// its key order, and falls back to the parsed arguments sorted by key.
func formatToolCallArguments(call tools.ToolCall) string {
	if raw := strings.TrimSpace(call.RawArguments); raw != "" {
		return formatJSON(raw)
	}

	fields := make([]string, 0, len(call.Arguments))
	for _, key := range slices.Sorted(maps.Keys(call.Arguments)) {
		fields = append(fields, formatField(key, call.Arguments[key]))
	}
	return formatFields(fields)
}

func formatToolCallResponse(content string) string {
	if content == "" {
		return " → ()"
	}
	if json.Valid([]byte(content)) {
		return " → " + formatJSON(content)
	}

	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) <= 3 {
		return fmt.Sprintf(" → %q", content)
	}
	return " → (\n" + strings.Join(collapseBlankLines(lines), "\n") + "\n)"
}

// formatJSON renders an object as key: value pairs in document order, other
// JSON indented, and anything that is not JSON as is.
func formatJSON(raw string) string {
	obj := orderedmap.New[string, any]()
	if err := json.Unmarshal([]byte(raw), &obj); err == nil && obj != nil {
		fields := make([]string, 0, obj.Len())
		for key, value := range obj.FromOldest() {
			fields = append(fields, formatField(key, value))
		}
		return formatFields(fields)
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		formatted, _ := json.MarshalIndent(parsed, "", "  ")
		return "(" + string(formatted) + ")"
	}
	return "(" + raw + ")"
}

func formatFields(fields []string) string {
	switch {
	case len(fields) == 0:
		return "()"
	case len(fields) == 1 && !strings.Contains(fields[0], "\n"):
		return "(" + fields[0] + ")"
	default:
		return "(\n  " + strings.Join(fields, "\n  ") + "\n)"
	}
}

func formatField(key string, value any) string {
	var rendered []byte
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("%s: %q", bold(key), v)
	case []any:
		if len(v) <= 1 {
			rendered, _ = json.Marshal(v)
		} else {
			rendered, _ = json.MarshalIndent(v, "", "  ")
		}
	case map[string]any:
		rendered, _ = json.MarshalIndent(v, "", "  ")
	default:
		rendered, _ = json.Marshal(v)
	}
	return fmt.Sprintf("%s: %s", bold(key), rendered)
}

// collapseBlankLines keeps at most one blank line in a row.
func collapseBlankLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return out
}
