package insight

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrEmptyCompletion is recorded when the text service answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Completer is the generative text service: one prompt in, one completion out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Completion is the outcome of one prompt. Exactly one of Text or Err is set.
type Completion struct {
	Text string
	Err  error
}

// Record converts the completion into its stored form.
func (c Completion) Record() Record {
	if c.Err != nil {
		var fault *GenerationFault
		if errors.As(c.Err, &fault) {
			return errorRecord(fault.Err)
		}
		return errorRecord(c.Err)
	}
	return Parse(c.Text)
}

// Generator sends prompts to the text service, isolating per-table failures.
type Generator struct {
	client      Completer
	timeout     time.Duration
	parallelism int
	logger      *slog.Logger
}

// NewGenerator creates a Generator. timeout bounds each call (default 30s if
// <= 0); parallelism bounds concurrent calls (default 4 if <= 0).
func NewGenerator(client Completer, timeout time.Duration, parallelism int) *Generator {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Generator{
		client:      client,
		timeout:     timeout,
		parallelism: parallelism,
		logger:      slog.Default(),
	}
}

// Generate issues one request per prompt. Every table in prompts is present
// in the result; failed calls carry a *GenerationFault. No call is retried.
func (g *Generator) Generate(ctx context.Context, prompts map[string]string) map[string]Completion {
	var (
		mu  sync.Mutex
		out = make(map[string]Completion, len(prompts))
	)

	var eg errgroup.Group
	eg.SetLimit(g.parallelism)

	for table, prompt := range prompts {
		eg.Go(func() error {
			c := g.complete(ctx, table, prompt)
			mu.Lock()
			out[table] = c
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	return out
}

func (g *Generator) complete(ctx context.Context, table, prompt string) Completion {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.client.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		g.logger.Warn("insight generation failed", "table", table, "error", err)
		return Completion{Err: &GenerationFault{Table: table, Err: err}}
	}
	return Completion{Text: text}
}
