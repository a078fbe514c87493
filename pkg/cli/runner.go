package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/input"
	"github.com/docker/agentloop/pkg/session"
	"github.com/docker/agentloop/pkg/stream"
)

// RuntimeError wraps runtime errors to distinguish them from usage errors
type RuntimeError struct {
	Err error
}

func (e RuntimeError) Error() string {
	return e.Err.Error()
}

func (e RuntimeError) Unwrap() error {
	return e.Err
}

// Loop runs the agent on a conversation.
type Loop interface {
	Run(ctx context.Context, history []chat.Message, req *chat.CompletionRequest, onEvent func(stream.Event)) ([]chat.Message, error)
}

// Config holds configuration for running an agent in CLI mode
type Config struct {
	AppName       string
	HideToolCalls bool
	ShowThinking  bool
	OutputJSON    bool
	// Store receives the user messages. The loop stores the rest.
	Store session.Store
}

// Run executes the agent on sess. With a prompt in args it runs once ("-"
// reads the prompt from in); otherwise it reads prompts line by line from
// in until EOF or /exit.
func Run(ctx context.Context, out *Printer, cfg Config, loop Loop, req *chat.CompletionRequest, sess *session.Session, in io.Reader, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := runner{out: out, cfg: cfg, loop: loop, req: req, sess: sess}

	if len(args) > 0 {
		prompt := strings.Join(args, " ")
		if prompt == "-" {
			buf, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read from stdin: %w", err)
			}
			prompt = string(buf)
		}
		return r.oneLoop(ctx, prompt)
	}

	if out.IsTerminal() {
		out.PrintWelcomeMessage(cfg.AppName, sess.ID)
	}
	lines := input.NewReader(in)
	for {
		if out.IsTerminal() {
			out.Print("> ")
		}

		line, err := lines.ReadLine(ctx)
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) == "" {
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		switch strings.TrimSpace(line) {
		case "/exit":
			return nil
		case "/usage":
			usage := sess.Usage()
			out.Println("Input tokens:", usage.InputTokens)
			out.Println("Output tokens:", usage.OutputTokens)
			continue
		}

		if err := r.oneLoop(ctx, line); err != nil {
			return err
		}
		out.Println()
	}
}

type runner struct {
	out  *Printer
	cfg  Config
	loop Loop
	req  *chat.CompletionRequest
	sess *session.Session
}

func (r *runner) oneLoop(ctx context.Context, text string) error {
	userInput := strings.TrimSpace(text)
	if userInput == "" {
		return nil
	}

	msg := chat.NewUserMessage(userInput)
	if r.cfg.Store != nil {
		if err := r.cfg.Store.AddMessage(ctx, r.sess.ID, &msg); err != nil {
			return fmt.Errorf("storing message: %w", err)
		}
	}
	r.sess.Messages = append(r.sess.Messages, msg)

	start := time.Now()
	var (
		usage   chat.Usage
		lastErr error
		names   = map[string]string{}
		shown   = map[string]bool{}
	)

	onEvent := func(event stream.Event) {
		if r.cfg.OutputJSON {
			buf, err := json.Marshal(event)
			if err != nil {
				slog.Error("Failed to marshal event", "error", err)
				return
			}
			r.out.Println(string(buf))
			return
		}

		switch e := event.(type) {
		case *stream.TextEvent:
			r.out.Print(e.Delta)
		case *stream.ThinkingEvent:
			if r.cfg.ShowThinking {
				r.out.PrintThinking(e.Delta)
			}
		case *stream.ToolCallEvent:
			for _, call := range e.ToolCalls {
				names[call.ID] = call.Name
				if !r.cfg.HideToolCalls {
					r.out.PrintToolCall(call)
				}
			}
		case *stream.ToolResultEvent:
			if r.cfg.HideToolCalls {
				return
			}
			// Results arrive per call and again as the combined message.
			for _, result := range e.Message.ToolResults() {
				if shown[result.ToolCallID] {
					continue
				}
				shown[result.ToolCallID] = true
				r.out.PrintToolResult(names[result.ToolCallID], result)
			}
		case *stream.UsageEvent:
			usage.Add(&e.Usage)
		case *stream.MaxTurnsReachedEvent:
			r.out.PrintMaxTurnsReached(e.MaxTurns)
		case *stream.ErrorEvent:
			lastErr = errors.New(e.Error)
			r.out.PrintError(lastErr)
		}
	}

	history, err := r.loop.Run(ctx, r.sess.Messages, r.req, onEvent)
	r.sess.Messages = history

	if !r.cfg.OutputJSON {
		r.out.PrintSummary(usage, time.Since(start))
	}

	if err != nil {
		if ctx.Err() != nil {
			// Ctrl+C is not a failure.
			return nil
		}
		// Already printed from the error event.
		return RuntimeError{Err: err}
	}
	return nil
}
