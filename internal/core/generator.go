package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/coursebot/courserag/internal/config"
	"github.com/coursebot/courserag/internal/llm"
	"github.com/coursebot/courserag/internal/metrics"
	"github.com/coursebot/courserag/internal/tools"
	"github.com/coursebot/courserag/internal/utils"
)

var ErrProviderFailed = errors.New("generation provider failed")

const (
	DefaultMaxRoundTrips   = 3
	DefaultProviderTimeout = 30 * time.Second
	DefaultToolTimeout     = 10 * time.Second

	unableToComplete = "I was unable to complete this request. Please try rephrasing your question."
	partialPrefix    = "I could not finish composing an answer, but this is what I found in the course materials:"
)

const systemPrompt = "You are an assistant specialised in course materials and educational content, with tools for searching course information.\n\n" +
	"Available tools:\n" +
	"1. search_course_content: search course materials for specific content\n" +
	"2. get_course_outline: get a course's title, link and complete lesson list\n\n" +
	"Tool usage:\n" +
	"- Use search_course_content for questions about specific course content, concepts or detailed material.\n" +
	"- Use get_course_outline for questions about course structure, lesson lists or what a course covers.\n" +
	"- Synthesise tool results into accurate, fact-based answers.\n" +
	"- If a tool finds nothing, say so clearly. If a course name is ambiguous, ask which course is meant.\n\n" +
	"Answer general knowledge questions without tools. Provide only the direct answer: " +
	"no reasoning process, tool explanations or mentions of search results. " +
	"For outlines include the course title, course link and every lesson with its number and title. " +
	"Be brief, educational and clear, and include examples when they help."

// LoopState is the state of one generation run.
type LoopState int

const (
	AwaitingModel LoopState = iota
	ExecutingTool
	Done
	Aborted
)

func (s LoopState) String() string {
	switch s {
	case AwaitingModel:
		return "AWAITING_MODEL"
	case ExecutingTool:
		return "EXECUTING_TOOL"
	case Done:
		return "DONE"
	case Aborted:
		return "ABORTED"
	}
	return fmt.Sprintf("LoopState(%d)", int(s))
}

// ToolExecutor runs tools by name; tools.Registry implements it.
type ToolExecutor interface {
	Specs() []llm.ToolSpec
	Execute(ctx context.Context, name string, args map[string]any) (tools.Result, error)
}

// Answer is the outcome of a generation run.
type Answer struct {
	Text       string
	Sources    []tools.Source
	State      LoopState // Done or Aborted
	RoundTrips int
}

type GeneratorOptions struct {
	MaxRoundTrips   int
	ProviderTimeout time.Duration
	ToolTimeout     time.Duration
	Retry           utils.RetryPolicy
	Metrics         *metrics.Metrics
}

// Generator drives the bounded tool-calling conversation with the provider.
// Runs are strictly sequential: at most one provider call or tool call is in
// flight at any time.
type Generator struct {
	provider llm.Provider
	tools    ToolExecutor
	opts     GeneratorOptions
}

func NewGenerator(p llm.Provider, t ToolExecutor, opts GeneratorOptions) *Generator {
	if opts.MaxRoundTrips <= 0 {
		opts.MaxRoundTrips = DefaultMaxRoundTrips
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	return &Generator{provider: p, tools: t, opts: opts}
}

type run struct {
	messages   []llm.Message
	pending    []llm.ToolCall
	gathered   []string
	sources    []tools.Source
	seen       map[string]bool
	roundTrips int
	callSeq    int
}

// Run answers query given the prior conversation. The returned error is
// ErrProviderFailed when the provider keeps failing, or the context error
// when ctx ends first.
func (g *Generator) Run(ctx context.Context, history []llm.Message, query string) (*Answer, error) {
	r := &run{
		messages: append(append([]llm.Message(nil), history...), llm.Message{Role: llm.RoleUser, Content: query}),
		seen:     make(map[string]bool),
	}
	req := llm.Request{System: systemPrompt, Tools: g.tools.Specs()}

	state := AwaitingModel
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if config.AppConfig.Debug() {
			log.Printf("Generation state %s after %d round-trips", state, r.roundTrips)
		}

		switch state {
		case AwaitingModel:
			if r.roundTrips >= g.opts.MaxRoundTrips {
				state = Aborted
				continue
			}
			req.Messages = r.messages
			resp, err := g.generate(ctx, req)
			r.roundTrips++
			if err != nil {
				return nil, err
			}
			if !resp.WantsTools() {
				g.opts.Metrics.ObserveRoundTrips(r.roundTrips)
				text := strings.TrimSpace(resp.Text)
				if text == "" {
					text = unableToComplete
				}
				return &Answer{Text: text, Sources: r.citations(), State: Done, RoundTrips: r.roundTrips}, nil
			}
			r.pending = r.assignIDs(resp.ToolCalls)
			r.messages = append(r.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: r.pending})
			state = ExecutingTool

		case ExecutingTool:
			results := make([]llm.ToolResult, 0, len(r.pending))
			for _, call := range r.pending {
				res, err := g.execute(ctx, call)
				if err != nil {
					return nil, err
				}
				if !res.IsError {
					r.gathered = append(r.gathered, res.Content)
					r.addSources(res.Sources)
				}
				results = append(results, llm.ToolResult{CallID: call.ID, Name: call.Name, Content: res.Content, IsError: res.IsError})
			}
			r.messages = append(r.messages, llm.Message{Role: llm.RoleTool, ToolResults: results})
			r.pending = nil
			state = AwaitingModel

		case Aborted:
			g.opts.Metrics.ObserveRoundTrips(r.roundTrips)
			log.Printf("Generation stopped after %d round-trips without a final answer", r.roundTrips)
			return &Answer{Text: r.bestEffort(), Sources: r.citations(), State: Aborted, RoundTrips: r.roundTrips}, nil
		}
	}
}

// generate calls the provider with a per-attempt timeout, retrying transient failures.
func (g *Generator) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var resp *llm.Response
	err := utils.Retry(ctx, g.opts.Retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.opts.ProviderTimeout)
		defer cancel()
		out, err := g.provider.Generate(callCtx, req)
		if err != nil {
			g.opts.Metrics.ProviderCall("error")
			log.Printf("Provider %s call failed: %v", g.provider.ModelName(), err)
			return err
		}
		g.opts.Metrics.ProviderCall("ok")
		if out == nil {
			out = &llm.Response{}
		}
		resp = out
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	return resp, nil
}

// execute runs one tool call. Failures that survive the retries become error
// results for the model; only the end of ctx aborts the run.
func (g *Generator) execute(ctx context.Context, call llm.ToolCall) (tools.Result, error) {
	var res tools.Result
	err := utils.Retry(ctx, g.opts.Retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.opts.ToolTimeout)
		defer cancel()
		out, err := g.tools.Execute(callCtx, call.Name, call.Args)
		if err != nil {
			log.Printf("Tool %s failed: %v", call.Name, err)
			return err
		}
		res = out
		return nil
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return tools.Result{}, ctxErr
	}
	if err != nil {
		g.opts.Metrics.ToolCall(call.Name, "failed")
		return tools.Result{Content: fmt.Sprintf("Tool '%s' failed: %v", call.Name, err), IsError: true}, nil
	}
	if res.IsError {
		g.opts.Metrics.ToolCall(call.Name, "error")
	} else {
		g.opts.Metrics.ToolCall(call.Name, "ok")
	}
	return res, nil
}

func (r *run) assignIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		r.callSeq++
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d", r.callSeq)
		}
		out[i] = c
	}
	return out
}

func (r *run) addSources(sources []tools.Source) {
	for _, s := range sources {
		k := s.Key()
		if r.seen[k] {
			continue
		}
		r.seen[k] = true
		r.sources = append(r.sources, s)
	}
}

func (r *run) citations() []tools.Source {
	if r.sources == nil {
		return []tools.Source{}
	}
	return r.sources
}

func (r *run) bestEffort() string {
	if len(r.gathered) == 0 {
		return unableToComplete
	}
	return partialPrefix + "\n\n" + strings.Join(r.gathered, "\n\n")
}
