package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ProviderFactory builds a concrete LLMProvider from a named provider
// entry's config. Registered per provider kind ("anthropic", "openai",
// "google", "ollama") by the composition root, keeping this package
// decoupled from the providers package's API-key-bearing constructors.
type ProviderFactory func(entry ProviderEntry) (LLMProvider, error)

// ProviderEntry is the narrow view of a configured provider entry Select
// needs, mirroring config.ProviderEntryConfig without importing
// internal/config (which already depends on nothing in this package, but
// keeping Select config-agnostic lets it be unit tested without a
// config.Config value).
type ProviderEntry struct {
	Name         string
	Kind         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int
}

// Select builds a single LLMProvider for modelName by walking the
// cascade default -> fallbackChain, constructing each entry with the
// matching registered factory and wrapping the result in a
// FailoverOrchestrator so a mid-conversation provider failure falls
// through to the next entry automatically. Entries that fail to
// construct (e.g. missing API key) are skipped rather than aborting the
// whole cascade; their reasons appear only in the error returned when
// no entry could be built.
func Select(entries map[string]ProviderEntry, defaultName string, fallbackChain []string, factories map[string]ProviderFactory) (LLMProvider, error) {
	order := append([]string{defaultName}, fallbackChain...)
	seen := make(map[string]bool, len(order))

	var built []LLMProvider
	var errs []string
	for _, name := range order {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		entry, ok := entries[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: not configured", name))
			continue
		}
		factory, ok := factories[entry.Kind]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: no factory registered for kind %q", name, entry.Kind))
			continue
		}
		provider, err := factory(entry)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if !provider.SupportsTools() {
			provider = NewTextToolCallProvider(provider)
		}
		built = append(built, provider)
	}

	if len(built) == 0 {
		return nil, fmt.Errorf("no usable provider in cascade %v: %s", order, strings.Join(errs, "; "))
	}

	orchestrator := NewFailoverOrchestrator(built[0], nil)
	for _, p := range built[1:] {
		orchestrator.AddProvider(p)
	}
	return orchestrator, nil
}

var toolCallTagRE = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// TextToolCallProvider wraps a provider that cannot natively emit
// structured tool calls. It appends a tool-call convention to the
// request's system prompt and parses `<tool_call>{"name":...,
// "input":...}</tool_call>` tags out of the streamed text back into
// models.ToolCall chunks, the same convention
// original_source/crates/agent's non-native-tool-calling models use
// when routed through a provider without function-calling support.
//
// nativeFailed latches permanently to true the first time a text-encoded
// tool call is parsed out of a response — an atomic flag because the
// same provider instance may serve concurrent completions. Complete does
// not read it; every completion scans its text for tags the same way.
type TextToolCallProvider struct {
	inner        LLMProvider
	nativeFailed atomic.Bool
}

// NewTextToolCallProvider wraps inner with the text-encoded tool-call
// convention.
func NewTextToolCallProvider(inner LLMProvider) *TextToolCallProvider {
	return &TextToolCallProvider{inner: inner}
}

func (p *TextToolCallProvider) Name() string          { return p.inner.Name() }
func (p *TextToolCallProvider) Models() []Model        { return p.inner.Models() }
func (p *TextToolCallProvider) SupportsTools() bool    { return true }

func (p *TextToolCallProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	wrapped := *req
	if len(req.Tools) > 0 {
		wrapped.System = strings.TrimSpace(req.System + "\n\n" + toolCallInstructions(req.Tools))
		wrapped.Tools = nil
	}

	inChunks, err := p.inner.Complete(ctx, &wrapped)
	if err != nil {
		return nil, err
	}
	if len(req.Tools) == 0 {
		return inChunks, nil
	}

	out := make(chan *CompletionChunk)
	go func() {
		defer close(out)
		var buf strings.Builder
		for chunk := range inChunks {
			if chunk.Error != nil {
				out <- chunk
				continue
			}
			buf.WriteString(chunk.Text)
			if chunk.Done {
				p.emitParsed(buf.String(), out)
				out <- &CompletionChunk{Done: true}
				return
			}
		}
	}()
	return out, nil
}

func (p *TextToolCallProvider) emitParsed(text string, out chan<- *CompletionChunk) {
	matches := toolCallTagRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		out <- &CompletionChunk{Text: text}
		return
	}
	p.nativeFailed.Store(true)

	last := 0
	for _, m := range matches {
		if m[0] > last {
			out <- &CompletionChunk{Text: text[last:m[0]]}
		}
		raw := text[m[2]:m[3]]
		var decoded struct {
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil && decoded.Name != "" {
			out <- &CompletionChunk{ToolCall: &models.ToolCall{
				ID:    uuid.NewString(),
				Name:  decoded.Name,
				Input: decoded.Input,
			}}
		}
		last = m[1]
	}
	if last < len(text) {
		out <- &CompletionChunk{Text: text[last:]}
	}
}

func toolCallInstructions(tools []Tool) string {
	var b strings.Builder
	w := bufio.NewWriter(&b)
	fmt.Fprintln(w, "You can call tools even though this model has no native function-calling support.")
	fmt.Fprintln(w, "To call a tool, emit exactly one line of the form:")
	fmt.Fprintln(w, `<tool_call>{"name":"<tool name>","input":{...}}</tool_call>`)
	fmt.Fprintln(w, "Available tools:")
	for _, t := range tools {
		fmt.Fprintf(w, "- %s: %s\n", t.Name(), t.Description())
	}
	w.Flush()
	return b.String()
}
