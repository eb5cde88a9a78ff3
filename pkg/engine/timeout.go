package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// EvalTimeout is the default limit for a single evaluation.
const EvalTimeout = 5 * time.Second

type evalResult struct {
	doc    *stepgraph.Document
	errors []EvalError
	err    error
}

// waitWithTimeout waits for a result from ch. It gives up after timeout or
// when ctx is done, and discards the result if a newer evaluation started
// meanwhile.
//
// On timeout the goroutine may still be running; the generation check
// ensures its result is dropped when it eventually completes.
func waitWithTimeout(
	ctx context.Context,
	ch <-chan evalResult,
	gen uint64,
	mu *sync.Mutex,
	currentGen *uint64,
	timeout time.Duration,
) (*stepgraph.Document, []EvalError, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		mu.Lock()
		current := *currentGen
		mu.Unlock()

		if gen != current {
			return nil, nil, fmt.Errorf("evaluation superseded by newer request")
		}
		return res.doc, res.errors, res.err

	case <-timer.C:
		return nil, nil, fmt.Errorf("evaluation timed out after %s", timeout)

	case <-ctx.Done():
		return nil, nil, fmt.Errorf("evaluation cancelled: %w", ctx.Err())
	}
}
