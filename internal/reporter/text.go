package reporter

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"fee-verification-service/internal/engine"
	"fee-verification-service/internal/models"
)

// generateText writes the human-readable report. Section order is fixed:
// assumptions first so every number below reads in their light.
func (r *Reporter) generateText(w io.Writer, outcome *engine.RunOutcome) error {
	summary := BuildSummary(outcome)

	var b strings.Builder
	b.WriteString("FEE VERIFICATION REPORT\n")
	b.WriteString(fmt.Sprintf("Contract: %s\n", outcome.Contract.Name))
	b.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().Format(time.RFC3339)))

	writeAssumptionsSection(&b, outcome)
	writeSummarySection(&b, summary)
	writeSheetBreakdownSection(&b, outcome)
	writeErroneousSection(&b, outcome)
	writeQuestionableSection(&b, outcome)
	writeMissingDataSection(&b, outcome)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeAssumptionsSection(b *strings.Builder, outcome *engine.RunOutcome) {
	b.WriteString("=== DETECTION ASSUMPTIONS ===\n")
	if len(outcome.DetectionAssumptions) == 0 {
		b.WriteString("None. All fields mapped exactly and all contract terms were explicit.\n\n")
		return
	}
	for _, a := range outcome.DetectionAssumptions {
		b.WriteString(fmt.Sprintf("  - %s\n", a))
	}
	for _, so := range outcome.Sheets {
		for _, v := range so.OrderViolations {
			b.WriteString(fmt.Sprintf("  - [%s] %s\n", so.Sheet.Name, v))
		}
	}
	b.WriteString("\n")
}

func writeSummarySection(b *strings.Builder, s *Summary) {
	b.WriteString("=== SUMMARY ===\n")
	table := newTable("Metric", "Value")
	table.addRow("Total transactions", fmt.Sprintf("%d", s.TotalTransactions))
	table.addRow("Correct fee checks", fmt.Sprintf("%d", s.CorrectCount))
	table.addRow("Overcharged", fmt.Sprintf("%d", s.OverchargedCount))
	table.addRow("Undercharged", fmt.Sprintf("%d", s.UnderchargedCount))
	table.addRow("Skipped checks", fmt.Sprintf("%d", s.SkippedCount))
	table.addRow("Erroneous transactions", fmt.Sprintf("%d", s.ErroneousCount))
	table.addRow("Questionable transactions", fmt.Sprintf("%d", s.QuestionableCount))
	table.addRow("Missing data transactions", fmt.Sprintf("%d", s.MissingDataCount))
	table.addRow("Total discrepancy", s.TotalDiscrepancy.StringFixed(2))
	table.addRow("Discrepancy (complete data only)", s.CompleteDataDiscrepancy.StringFixed(2))
	table.render(b)
	b.WriteString("\n")
}

func writeSheetBreakdownSection(b *strings.Builder, outcome *engine.RunOutcome) {
	b.WriteString("=== BREAKDOWN BY SHEET ===\n")
	table := newTable("Sheet", "Rows", "Errors", "Questionable", "Reserve Withheld")
	for _, so := range outcome.Sheets {
		errors, questionable := 0, 0
		for _, result := range so.Results {
			if result.ErrorCount > 0 {
				errors++
			}
			if result.Category == models.ConfidenceQuestionable {
				questionable++
			}
		}
		withheld := "0.00"
		if len(so.ReserveWindows) > 0 {
			total := so.ReserveWindows[0].Withheld
			for _, w := range so.ReserveWindows[1:] {
				total = total.Add(w.Withheld)
			}
			withheld = total.StringFixed(2)
		}
		table.addRow(so.Sheet.Name,
			fmt.Sprintf("%d", so.Sheet.RowCount()),
			fmt.Sprintf("%d", errors),
			fmt.Sprintf("%d", questionable),
			withheld)
	}
	table.render(b)
	b.WriteString("\n")
}

func writeErroneousSection(b *strings.Builder, outcome *engine.RunOutcome) {
	b.WriteString("=== ERRONEOUS TRANSACTIONS ===\n")
	grouped := erroneousByFeeType(outcome)
	if len(grouped) == 0 {
		b.WriteString("None.\n\n")
		return
	}

	for _, feeType := range models.AllFeeTypes() {
		group, ok := grouped[feeType]
		if !ok {
			continue
		}
		b.WriteString(fmt.Sprintf("--- %s ---\n", feeType.DisplayName()))
		table := newTable("Transaction", "Sheet", "Actual", "Expected", "Difference", "Status", "Confidence")
		for _, fe := range group {
			actual := "-"
			if fe.Comparison.Actual != nil {
				actual = fe.Comparison.Actual.StringFixed(2)
			}
			table.addRow(
				fe.Result.TransactionID,
				fe.Result.SheetName,
				actual,
				fe.Comparison.Expected.StringFixed(2),
				fe.Comparison.Difference.StringFixed(2),
				fe.Comparison.Status.String(),
				fmt.Sprintf("%.2f", fe.Result.Confidence),
			)
		}
		table.render(b)
	}
	b.WriteString("\n")
}

func writeQuestionableSection(b *strings.Builder, outcome *engine.RunOutcome) {
	b.WriteString("=== QUESTIONABLE TRANSACTIONS ===\n")
	questionable := questionableResults(outcome)
	if len(questionable) == 0 {
		b.WriteString("None.\n\n")
		return
	}
	for _, result := range questionable {
		b.WriteString(fmt.Sprintf("  %s (%s) confidence %.2f\n", result.TransactionID, result.SheetName, result.Confidence))
		if result.Reasoning != "" {
			b.WriteString(fmt.Sprintf("    %s\n", result.Reasoning))
		}
		for _, a := range result.Assumptions {
			b.WriteString(fmt.Sprintf("    - %s\n", a))
		}
	}
	b.WriteString("\n")
}

func writeMissingDataSection(b *strings.Builder, outcome *engine.RunOutcome) {
	b.WriteString("=== MISSING DATA TRANSACTIONS ===\n")
	missing := missingDataResults(outcome)
	if len(missing) == 0 {
		b.WriteString("None.\n")
		return
	}
	for _, result := range missing {
		var fields []string
		for _, feeType := range models.AllFeeTypes() {
			if fc, ok := result.PerFeeType[feeType]; ok && fc.Status == models.FeeSkippedMissingData {
				fields = append(fields, feeType.String())
			}
		}
		b.WriteString(fmt.Sprintf("  %s (%s): %s\n", result.TransactionID, result.SheetName, strings.Join(fields, ", ")))
	}
}

// table renders aligned box-drawing tables.
type table struct {
	headers []string
	rows    [][]string
	widths  []int
}

func newTable(headers ...string) *table {
	t := &table{headers: headers, widths: make([]int, len(headers))}
	for i, h := range headers {
		t.widths[i] = utf8.RuneCountInString(h)
	}
	return t
}

func (t *table) addRow(cells ...string) {
	for i, c := range cells {
		if i < len(t.widths) && utf8.RuneCountInString(c) > t.widths[i] {
			t.widths[i] = utf8.RuneCountInString(c)
		}
	}
	t.rows = append(t.rows, cells)
}

func (t *table) render(b *strings.Builder) {
	t.line(b, "┌", "┬", "┐")
	t.row(b, t.headers)
	t.line(b, "├", "┼", "┤")
	for _, row := range t.rows {
		t.row(b, row)
	}
	t.line(b, "└", "┴", "┘")
}

func (t *table) line(b *strings.Builder, left, mid, right string) {
	b.WriteString(left)
	for i, w := range t.widths {
		b.WriteString(strings.Repeat("─", w+2))
		if i < len(t.widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right + "\n")
}

func (t *table) row(b *strings.Builder, cells []string) {
	b.WriteString("│")
	for i, w := range t.widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		pad := w - utf8.RuneCountInString(cell)
		b.WriteString(" " + cell + strings.Repeat(" ", pad) + " │")
	}
	b.WriteString("\n")
}
