package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// SheetGenerator generates provider transaction sheet CSV files for manual
// testing of the verify command.
type SheetGenerator struct {
	Count     int
	StartDate time.Time
	EndDate   time.Time
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	Rate      decimal.Decimal
	Fixed     decimal.Decimal
	Reserve   decimal.Decimal
	Seed      int64
	rng       *rand.Rand
}

// RowTemplate represents one sheet row before header mapping
type RowTemplate struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Commission    decimal.Decimal
	Reserve       decimal.Decimal
	Date          time.Time
	Status        string
	Type          string
}

func main() {
	var (
		output    = flag.String("output", "generated_sheet.csv", "Output CSV file path")
		count     = flag.Int("count", 500, "Number of transactions to generate")
		startDate = flag.String("start-date", "2024-01-01", "Start date (YYYY-MM-DD)")
		endDate   = flag.String("end-date", "2024-03-31", "End date (YYYY-MM-DD)")
		minAmount = flag.Float64("min-amount", 5.00, "Minimum transaction amount")
		maxAmount = flag.Float64("max-amount", 2500.00, "Maximum transaction amount")
		rate      = flag.Float64("rate", 0.038, "Commission rate the provider supposedly applies")
		fixed     = flag.Float64("fixed", 0.25, "Fixed fee per transaction")
		reserve   = flag.Float64("reserve-rate", 0.10, "Rolling reserve rate")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
		pattern   = flag.String("pattern", "clean", "Generation pattern: clean, overcharged, misspelled-headers, cyrillic, shuffled-dates")
	)
	flag.Parse()

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		log.Fatalf("Invalid end date: %v", err)
	}

	generator := &SheetGenerator{
		Count:     *count,
		StartDate: start,
		EndDate:   end,
		MinAmount: decimal.NewFromFloat(*minAmount),
		MaxAmount: decimal.NewFromFloat(*maxAmount),
		Rate:      decimal.NewFromFloat(*rate),
		Fixed:     decimal.NewFromFloat(*fixed),
		Reserve:   decimal.NewFromFloat(*reserve),
		Seed:      *seed,
		rng:       rand.New(rand.NewSource(*seed)),
	}

	rows := generator.Generate(*pattern)
	headers := headersFor(*pattern)

	if err := generator.WriteToCSV(*output, headers, rows); err != nil {
		log.Fatalf("Failed to write CSV: %v", err)
	}

	fmt.Printf("Generated %d transactions in %s\n", len(rows), *output)
	fmt.Printf("Pattern: %s\n", *pattern)
	fmt.Printf("Seed used: %d\n", *seed)
}

// Generate creates rows for the requested pattern.
func (g *SheetGenerator) Generate(pattern string) []RowTemplate {
	rows := make([]RowTemplate, g.Count)
	duration := g.EndDate.Sub(g.StartDate)

	for i := 0; i < g.Count; i++ {
		amountRange := g.MaxAmount.Sub(g.MinAmount)
		amount := decimal.NewFromFloat(g.rng.Float64()).Mul(amountRange).Add(g.MinAmount).Round(2)

		commission := amount.Mul(g.Rate).Add(g.Fixed).Round(2)
		if pattern == "overcharged" && g.rng.Float64() < 0.1 {
			// One in ten rows gets an extra cent to a few euro tacked on.
			commission = commission.Add(decimal.NewFromFloat(0.01 + g.rng.Float64()*3)).Round(2)
		}

		status := "approved"
		if g.rng.Float64() < 0.03 {
			status = "declined"
		}

		var withheld decimal.Decimal
		if status == "approved" {
			withheld = amount.Mul(g.Reserve).Round(2)
		}

		date := g.StartDate.Add(time.Duration(int64(duration) * int64(i) / int64(g.Count)))
		if pattern == "shuffled-dates" && g.rng.Float64() < 0.15 {
			date = date.AddDate(0, 0, -g.rng.Intn(30))
		}

		rows[i] = RowTemplate{
			TransactionID: fmt.Sprintf("TX%06d", i+1),
			Amount:        amount,
			Currency:      "EUR",
			Commission:    commission,
			Reserve:       withheld,
			Date:          date,
			Status:        status,
			Type:          "payment",
		}
	}

	return rows
}

// headersFor returns the header row variant for a pattern. Misspelled and
// Cyrillic variants exercise the fuzzy schema detection.
func headersFor(pattern string) []string {
	switch pattern {
	case "misspelled-headers":
		return []string{"transation_id", "amout", "currency", "comission", "rolling_reserv", "date", "status", "type"}
	case "cyrillic":
		return []string{"номер транзакции", "сумма", "валюта", "комиссия", "резерв", "дата", "статус", "тип"}
	default:
		return []string{"transaction_id", "amount", "currency", "commission", "rolling_reserve", "date", "status", "type"}
	}
}

// WriteToCSV writes rows to a CSV file with the given headers.
func (g *SheetGenerator) WriteToCSV(path string, headers []string, rows []RowTemplate) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.TransactionID,
			row.Amount.StringFixed(2),
			row.Currency,
			row.Commission.StringFixed(2),
			row.Reserve.StringFixed(2),
			row.Date.Format("2006-01-02"),
			row.Status,
			row.Type,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	return nil
}
