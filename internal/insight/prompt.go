package insight

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Template selects the instruction text used for a primary table.
type Template string

const (
	AnalysisTemplate     Template = "analysis"
	SubscriptionTemplate Template = "subscription"
)

// Relation declares which tables are cross-referenced when a primary table is
// analysed, and which template applies to it.
type Relation struct {
	Related  []string
	Template Template
}

// relations is the static cross-reference table. Tables not listed here are
// analysed on their own with the default template.
var relations = map[string]Relation{
	"withdrawals": {Related: []string{"orders", "users"}},
	"orders":      {Related: []string{"users", "businesses"}},
	"users":       {Related: []string{"businesses"}},
	"sunhistory":  {Related: []string{"users", "businesses", "orders"}, Template: SubscriptionTemplate},
}

// RelationFor returns the declared relation for table.
func RelationFor(table string) Relation {
	rel := relations[table]
	if rel.Template == "" {
		rel.Template = AnalysisTemplate
	}
	return rel
}

const noDataText = "No data available."

const analysisPreamble = `You are a business analyst for InXource, a platform for vendors.

Your task is to provide actionable insights, not just raw numbers.
Focus on patterns, correlations, anomalies, and opportunities.`

const analysisGuidelines = `Guidelines:
1. Identify patterns and trends in the main table.
2. Correlate the main table data with related tables (if any).
3. Highlight anomalies, opportunities, or unusual behaviors.
4. Provide actionable recommendations for marketing, platform improvements, or user engagement.
5. Present insights clearly in human-readable language.`

const subscriptionPreamble = `You are a revenue and subscription analyst for InXource, a platform for vendors.
Vendors pay for subscription tiers; the main table is the subscription payment history.

Your task is to provide actionable insights about recurring revenue, not just raw numbers.
Focus on churn, retention, upgrades and downgrades, and pricing signals.`

const subscriptionGuidelines = `Guidelines:
1. Identify subscription trends: new subscriptions, renewals, lapses, and tier changes.
2. Flag churn risk: vendors whose payments stopped or moved to a cheaper tier.
3. Assess retention: how many vendors keep renewing, and which businesses or user groups retain best.
4. Evaluate tier pricing: whether amounts cluster on one tier, and whether the tier mix suggests under- or over-pricing.
5. Correlate subscriptions with orders and business activity in the related tables (if any).
6. Provide actionable recommendations to reduce churn and grow recurring revenue.`

const outputContract = `IMPORTANT: Structure your response as follows:
CONCERNS:
[List your main concerns and issues identified in the data]

RECOMMENDATIONS:
[List your actionable recommendations based on the concerns]

Keep each section clear and separate.`

// Assembler renders analysis prompts from snapshots.
type Assembler struct {
	SampleSize int
}

// NewAssembler creates an Assembler that embeds at most sampleSize rows per
// table.
func NewAssembler(sampleSize int) *Assembler {
	if sampleSize <= 0 {
		sampleSize = Weekly.Window().SampleSize
	}
	return &Assembler{SampleSize: sampleSize}
}

// Assemble renders the prompt for one primary table. Related tables missing
// from related, or empty, are left out.
func (a *Assembler) Assemble(table string, snap Snapshot, related map[string]Snapshot) string {
	rel := RelationFor(table)

	preamble, guidelines := analysisPreamble, analysisGuidelines
	if rel.Template == SubscriptionTemplate {
		preamble, guidelines = subscriptionPreamble, subscriptionGuidelines
	}

	var sb strings.Builder
	sb.WriteString(preamble)
	fmt.Fprintf(&sb, "\n\nMain table for analysis: %s\nData:\n", table)
	if snap.Empty() {
		sb.WriteString(noDataText)
		sb.WriteString("\n")
	} else {
		a.writeRows(&sb, snap)
	}

	for _, name := range rel.Related {
		rs, ok := related[name]
		if !ok || rs.Empty() {
			continue
		}
		fmt.Fprintf(&sb, "\nRelated table: %s\n", name)
		a.writeRows(&sb, rs)
	}

	sb.WriteString("\n")
	sb.WriteString(guidelines)
	sb.WriteString("\n\n")
	sb.WriteString(outputContract)
	sb.WriteString("\n")
	return sb.String()
}

func (a *Assembler) writeRows(sb *strings.Builder, snap Snapshot) {
	cols := snap.Columns
	for _, row := range snap.Sample(a.SampleSize) {
		if len(cols) == 0 {
			cols = sortedKeys(row)
		}
		sb.WriteString("{")
		for i, col := range cols {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%s: %s", col, formatValue(row[col]))
		}
		sb.WriteString("}\n")
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
