package insight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inxource/inxight/internal/source"
)

type fakeCompleter struct {
	mu      sync.Mutex
	prompts []string
	fail    string
	empty   string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	switch {
	case f.fail != "" && strings.Contains(prompt, "Main table for analysis: "+f.fail+"\n"):
		return "", errors.New("upstream unavailable")
	case f.empty != "" && strings.Contains(prompt, "Main table for analysis: "+f.empty+"\n"):
		return "   ", nil
	}
	return "CONCERNS: fine\nRECOMMENDATIONS: keep going", nil
}

type tableSource struct {
	fail string
}

func (s tableSource) Columns(_ context.Context, table string) ([]string, error) {
	if table == s.fail {
		return nil, errors.New("relation does not exist")
	}
	return []string{"id", "created_at"}, nil
}

func (s tableSource) RowsSince(_ context.Context, _, _ string, since time.Time) (source.Rows, error) {
	return source.Rows{Columns: []string{"id", "created_at"}, Values: [][]any{{int64(1), since}}}, nil
}

func (s tableSource) RecentRows(context.Context, string, string, int) (source.Rows, error) {
	return source.Rows{}, nil
}

func newTestPipeline(src Source, llm Completer) *Pipeline {
	return NewPipeline(
		NewExtractor(src, time.Second, 4),
		NewGenerator(llm, time.Second, 4),
		nil,
	)
}

func TestPipeline_GenerationFaultIsolated(t *testing.T) {
	llm := &fakeCompleter{fail: "orders"}
	p := newTestPipeline(tableSource{}, llm)

	batch, stats := p.Run(context.Background(), Weekly)

	if len(batch) != len(DefaultTables) {
		t.Fatalf("batch has %d keys, want %d", len(batch), len(DefaultTables))
	}
	if stats.GenerationFaults != 1 {
		t.Errorf("GenerationFaults = %d, want 1", stats.GenerationFaults)
	}
	for _, table := range DefaultTables {
		rec, ok := batch[table]
		if !ok {
			t.Errorf("batch missing %s", table)
			continue
		}
		if table == "orders" {
			if !strings.HasPrefix(rec.Concern, "Error generating insight: ") {
				t.Errorf("orders concern = %q, want error-shaped", rec.Concern)
			}
			continue
		}
		if rec != (Record{Concern: "fine", Recommendation: "keep going"}) {
			t.Errorf("%s record = %+v", table, rec)
		}
	}
}

func TestPipeline_ExtractionFaultIsolated(t *testing.T) {
	llm := &fakeCompleter{}
	p := newTestPipeline(tableSource{fail: "withdrawals"}, llm)

	batch, stats := p.Run(context.Background(), Monthly)

	if len(batch) != len(DefaultTables) {
		t.Fatalf("batch has %d keys, want %d", len(batch), len(DefaultTables))
	}
	if stats.ExtractionFaults != 1 {
		t.Errorf("ExtractionFaults = %d, want 1", stats.ExtractionFaults)
	}

	var found bool
	for _, prompt := range llm.prompts {
		if strings.Contains(prompt, "Main table for analysis: withdrawals\n") {
			found = true
			if !strings.Contains(prompt, "No data available.") {
				t.Errorf("withdrawals prompt should carry the no-data marker")
			}
		}
	}
	if !found {
		t.Errorf("withdrawals was not prompted")
	}
}

func TestPipeline_EmptyCompletion(t *testing.T) {
	llm := &fakeCompleter{empty: "users"}
	p := newTestPipeline(tableSource{}, llm)

	batch, _ := p.Run(context.Background(), Weekly)

	want := "Error generating insight: " + ErrEmptyCompletion.Error()
	if got := batch["users"].Concern; got != want {
		t.Errorf("users concern = %q, want %q", got, want)
	}
}

func TestPipeline_OnePromptPerTable(t *testing.T) {
	llm := &fakeCompleter{}
	p := NewPipeline(NewExtractor(tableSource{}, time.Second, 2), NewGenerator(llm, time.Second, 2), []string{"orders", "users"})

	batch, _ := p.Run(context.Background(), Weekly)

	if len(llm.prompts) != 2 {
		t.Errorf("sent %d prompts, want 2", len(llm.prompts))
	}
	if _, ok := batch["businesses"]; ok {
		t.Errorf("related-only table should not get a record")
	}
}

func TestWithRelated(t *testing.T) {
	got := withRelated([]string{"withdrawals", "orders"})
	want := []string{"withdrawals", "orders", "users", "businesses"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("withRelated = %v, want %v", got, want)
	}
}
