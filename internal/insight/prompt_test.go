package insight

import (
	"fmt"
	"strings"
	"testing"
)

func rowsSnapshot(table string, n int) Snapshot {
	s := Snapshot{Table: table, Columns: []string{"id", "name"}}
	for i := n; i > 0; i-- {
		s.Rows = append(s.Rows, Row{"id": int64(i), "name": fmt.Sprintf("%s-%d", table, i)})
	}
	return s
}

func TestAssemble_SampleBound(t *testing.T) {
	for _, c := range Cadences {
		t.Run(string(c), func(t *testing.T) {
			w := c.Window()
			asm := NewAssembler(w.SampleSize)
			prompt := asm.Assemble("business_owners", rowsSnapshot("business_owners", 40), nil)

			got := strings.Count(prompt, "{id: ")
			if got != w.SampleSize {
				t.Errorf("embedded %d rows, want %d", got, w.SampleSize)
			}
		})
	}
}

func TestAssemble_NoData(t *testing.T) {
	asm := NewAssembler(10)
	prompt := asm.Assemble("industry_trucking", Snapshot{Table: "industry_trucking"}, nil)

	if !strings.Contains(prompt, "Main table for analysis: industry_trucking") {
		t.Errorf("prompt missing main table header")
	}
	if !strings.Contains(prompt, "No data available.") {
		t.Errorf("prompt missing no-data marker")
	}
	if !strings.Contains(prompt, "CONCERNS:") || !strings.Contains(prompt, "RECOMMENDATIONS:") {
		t.Errorf("prompt missing output contract")
	}
}

func TestAssemble_RelatedTables(t *testing.T) {
	asm := NewAssembler(10)
	related := map[string]Snapshot{
		"orders":     rowsSnapshot("orders", 2),
		"users":      {Table: "users"},
		"businesses": rowsSnapshot("businesses", 1),
	}
	prompt := asm.Assemble("withdrawals", rowsSnapshot("withdrawals", 3), related)

	if !strings.Contains(prompt, "Related table: orders") {
		t.Errorf("prompt missing orders block")
	}
	if strings.Contains(prompt, "Related table: users") {
		t.Errorf("empty related table should be omitted")
	}
	if strings.Contains(prompt, "Related table: businesses") {
		t.Errorf("undeclared related table should not appear")
	}
	if strings.Index(prompt, "withdrawals-3") > strings.Index(prompt, "Related table: orders") {
		t.Errorf("main table rows should precede related blocks")
	}
}

func TestAssemble_SubscriptionTemplate(t *testing.T) {
	asm := NewAssembler(10)
	sub := asm.Assemble("sunhistory", rowsSnapshot("sunhistory", 1), nil)
	plain := asm.Assemble("orders", rowsSnapshot("orders", 1), nil)

	if !strings.Contains(sub, "churn") {
		t.Errorf("subscription prompt should use the subscription guidelines")
	}
	if strings.Contains(plain, "subscription payment history") {
		t.Errorf("orders prompt should use the default template")
	}
}

func TestAssemble_ValueFormatting(t *testing.T) {
	asm := NewAssembler(10)
	snap := Snapshot{
		Table:   "users",
		Columns: []string{"id", "email", "deleted_at"},
		Rows:    []Row{{"id": int64(7), "email": "a@b.c", "deleted_at": nil}},
	}
	prompt := asm.Assemble("users", snap, nil)

	want := `{id: 7, email: "a@b.c", deleted_at: null}`
	if !strings.Contains(prompt, want) {
		t.Errorf("prompt missing row %s:\n%s", want, prompt)
	}
}

func TestRelationFor_Default(t *testing.T) {
	rel := RelationFor("business_settings")
	if len(rel.Related) != 0 {
		t.Errorf("Related = %v, want none", rel.Related)
	}
	if rel.Template != AnalysisTemplate {
		t.Errorf("Template = %q, want %q", rel.Template, AnalysisTemplate)
	}
}
