// Package engine evaluates authoring scripts. A script is zygomys Lisp with
// a few builtins (step, substep, connect, vec3) that build a step document
// through a fresh stepgraph.Store, so scripted documents obey the same
// allocation and validation rules as interactive edits.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/stepcraft/pkg/ctxlog"
	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// EvalError is a non-fatal error in user code: a parse error or a builtin
// that rejected its arguments.
type EvalError struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Engine is safe for concurrent use; each evaluation gets its own sandbox
// and store.
type Engine struct {
	mu         sync.Mutex
	generation uint64

	timeout   time.Duration
	storeOpts []stepgraph.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds a single evaluation. Non-positive values keep
// EvalTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithStoreOptions configures the store each evaluation builds into.
func WithStoreOptions(opts ...stepgraph.Option) Option {
	return func(e *Engine) { e.storeOpts = append(e.storeOpts, opts...) }
}

// NewEngine creates a new Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{timeout: EvalTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the per-evaluation limit.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// Evaluate runs source in a fresh sandbox and returns the document it built.
//
// Return semantics:
//   - On success: document + nil errors + nil error
//   - On parse/eval failure: nil document + eval errors + nil error
//   - On fatal failure (timeout, cancellation, panic, superseded): nil + nil + error
func (e *Engine) Evaluate(ctx context.Context, source string) (*stepgraph.Document, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		doc, evalErrs, err := e.evaluate(source)
		ch <- evalResult{doc: doc, errors: evalErrs, err: err}
	}()

	doc, evalErrs, err := waitWithTimeout(ctx, ch, gen, &e.mu, &e.generation, e.timeout)
	log := ctxlog.FromContext(ctx)
	switch {
	case err != nil:
		log.Warn("script evaluation failed", "err", err)
	case len(evalErrs) > 0:
		log.Debug("script has errors", "count", len(evalErrs), "first", evalErrs[0].Error())
	default:
		log.Debug("script evaluated", "steps", len(doc.Steps), "nodes", doc.NodeCount())
	}
	return doc, evalErrs, err
}

func (e *Engine) evaluate(source string) (*stepgraph.Document, []EvalError, error) {
	store := stepgraph.NewStore(e.storeOpts...)
	if strings.TrimSpace(source) == "" {
		doc := store.Snapshot()
		return &doc, nil, nil
	}

	// Sandbox mode keeps scripts away from the filesystem and syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, store)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err), nil
	}

	doc := store.Snapshot()
	return &doc, nil, nil
}

// linePattern matches zygomys messages of the form "Error on line N: ...".
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches "line N: ...".
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into EvalErrors, keeping the
// line number when the message carries one.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		m := re.FindStringSubmatchIndex(msg)
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(msg[m[2]:m[3]])
		detail := strings.TrimSpace(msg[m[4]:m[5]])
		// Keep whatever a builtin reported ahead of the location.
		if prefix := strings.TrimSpace(msg[:m[0]]); prefix != "" {
			detail = strings.TrimSpace(prefix + " " + detail)
		}
		return []EvalError{{Line: line, Message: detail}}
	}
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
