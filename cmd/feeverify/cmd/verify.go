package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fee-verification-service/cmd/feeverify/config"
	"fee-verification-service/internal/engine"
	"fee-verification-service/internal/parsers"
	"fee-verification-service/internal/reporter"
	"fee-verification-service/internal/rules"
	"fee-verification-service/pkg/logger"
)

// Flags for the verify command
var (
	contractFile string
	sheetFiles   []string
	outputFormat string
	outputFile   string
	delimiter    string
	maxErrors    int

	tolerance             float64
	feeConfidenceFloor    float64
	highThreshold         float64
	questionableThreshold float64
	monthlyVolume         string

	parallelSheets   bool
	showProgress     bool
	allVerifications bool
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify charged fees against a merchant contract",
	Long: `Verify reads one or more transaction sheets and checks every charged fee
against the rates and fixed fees the contract specifies. Column meanings
are detected from the headers, so sheets from different providers with
different layouts work without per-provider configuration.

Every input row produces exactly one result. Rows the tool cannot fully
interpret are reported with a low confidence score instead of being
silently dropped.

Examples:
  # Basic verification
  feeverify verify --contract contract.json --sheets january.csv

  # Multiple sheets, JSON report to a file
  feeverify verify --contract contract.json --sheets jan.csv,feb.csv \
    --output-format json --output-file report.json

  # Tighter tolerance and known monthly volume for tiered rates
  feeverify verify --contract contract.json --sheets tx.csv \
    --tolerance 0.005 --monthly-volume 125000

  # Verify sheets concurrently with progress output
  feeverify verify --contract contract.json --sheets q1.csv,q2.csv \
    --parallel --progress`,

	PreRunE: validateVerifyFlags,
	RunE:    runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	// Required flags
	verifyCmd.Flags().StringVarP(&contractFile, "contract", "c", "", "path to contract JSON file (required)")
	verifyCmd.Flags().StringSliceVarP(&sheetFiles, "sheets", "s", []string{}, "comma-separated paths to transaction sheet CSV files (required)")

	// Output flags
	verifyCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "text", "output format: text, json")
	verifyCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	verifyCmd.Flags().BoolVar(&allVerifications, "all-verifications", false, "embed every per-transaction result in the JSON report")

	// Parsing flags
	verifyCmd.Flags().StringVar(&delimiter, "delimiter", "", "CSV delimiter (default: autodetect)")
	verifyCmd.Flags().IntVar(&maxErrors, "max-errors", 100, "maximum malformed rows tolerated per sheet")

	// Verification configuration flags
	verifyCmd.Flags().Float64VarP(&tolerance, "tolerance", "t", 0.01, "absolute amount difference treated as equal")
	verifyCmd.Flags().Float64Var(&feeConfidenceFloor, "fee-confidence-floor", 0.7, "minimum column detection confidence for flat fee checks")
	verifyCmd.Flags().Float64Var(&highThreshold, "high-confidence", 0.8, "confidence at or above which results are high confidence")
	verifyCmd.Flags().Float64Var(&questionableThreshold, "confidence-threshold", 0.5, "confidence below which results are questionable")
	verifyCmd.Flags().StringVar(&monthlyVolume, "monthly-volume", "", "known monthly volume for tiered rate selection")

	// Execution flags
	verifyCmd.Flags().BoolVar(&parallelSheets, "parallel", false, "verify sheets concurrently")
	verifyCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")

	// Mark required flags
	verifyCmd.MarkFlagRequired("contract")
	verifyCmd.MarkFlagRequired("sheets")

	// Bind flags to viper
	viper.BindPFlag("contract", verifyCmd.Flags().Lookup("contract"))
	viper.BindPFlag("sheets", verifyCmd.Flags().Lookup("sheets"))
	viper.BindPFlag("output-format", verifyCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", verifyCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("all-verifications", verifyCmd.Flags().Lookup("all-verifications"))
	viper.BindPFlag("delimiter", verifyCmd.Flags().Lookup("delimiter"))
	viper.BindPFlag("max-errors", verifyCmd.Flags().Lookup("max-errors"))
	viper.BindPFlag("tolerance", verifyCmd.Flags().Lookup("tolerance"))
	viper.BindPFlag("fee-confidence-floor", verifyCmd.Flags().Lookup("fee-confidence-floor"))
	viper.BindPFlag("high-confidence", verifyCmd.Flags().Lookup("high-confidence"))
	viper.BindPFlag("confidence-threshold", verifyCmd.Flags().Lookup("confidence-threshold"))
	viper.BindPFlag("monthly-volume", verifyCmd.Flags().Lookup("monthly-volume"))
	viper.BindPFlag("parallel", verifyCmd.Flags().Lookup("parallel"))
	viper.BindPFlag("progress", verifyCmd.Flags().Lookup("progress"))
}

func validateVerifyFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	contractFile = viper.GetString("contract")
	sheetFiles = viper.GetStringSlice("sheets")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	delimiter = viper.GetString("delimiter")
	maxErrors = viper.GetInt("max-errors")
	tolerance = viper.GetFloat64("tolerance")
	feeConfidenceFloor = viper.GetFloat64("fee-confidence-floor")
	highThreshold = viper.GetFloat64("high-confidence")
	questionableThreshold = viper.GetFloat64("confidence-threshold")
	monthlyVolume = viper.GetString("monthly-volume")
	parallelSheets = viper.GetBool("parallel")
	showProgress = viper.GetBool("progress")

	// Validate required flags
	if contractFile == "" {
		return fmt.Errorf("contract is required")
	}
	if len(sheetFiles) == 0 {
		return fmt.Errorf("at least one sheet file is required")
	}

	// Validate file existence
	if err := validateFileExists(contractFile, "contract file"); err != nil {
		return err
	}
	for i, sheetFile := range sheetFiles {
		if err := validateFileExists(sheetFile, fmt.Sprintf("sheet file %d", i+1)); err != nil {
			return err
		}
	}

	// Validate output format
	if !reporter.Format(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: text, json", outputFormat)
	}

	// Validate thresholds
	if tolerance < 0 {
		return fmt.Errorf("tolerance cannot be negative")
	}
	if feeConfidenceFloor < 0 || feeConfidenceFloor > 1 {
		return fmt.Errorf("fee confidence floor must be between 0.0 and 1.0")
	}
	if highThreshold < 0 || highThreshold > 1 {
		return fmt.Errorf("high confidence threshold must be between 0.0 and 1.0")
	}
	if questionableThreshold < 0 || questionableThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0.0 and 1.0")
	}
	if questionableThreshold > highThreshold {
		return fmt.Errorf("confidence threshold cannot exceed high confidence threshold")
	}

	if _, err := config.ParseMonthlyVolume(monthlyVolume); err != nil {
		return err
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	op := logger.NewOperationLogger("verify", nil).
		WithField("contract", contractFile).
		WithField("sheets", len(sheetFiles))

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting fee verification...\n")
		fmt.Fprintf(os.Stderr, "Contract: %s\n", contractFile)
		fmt.Fprintf(os.Stderr, "Sheets: %s\n", strings.Join(sheetFiles, ", "))
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(os.Stderr, "Output file: %s\n", outputFile)
		}
	}

	// Load the contract
	op.Step("load contract")
	contract, err := rules.LoadContract(contractFile)
	if err != nil {
		op.Error(err, "Contract load failed")
		return err
	}

	// Parse the sheets
	op.Step("parse sheets")
	parserConfig, err := config.CreateSheetParserConfig(delimiter, maxErrors)
	if err != nil {
		return err
	}
	parser, err := parsers.NewSheetParser(parserConfig)
	if err != nil {
		return err
	}
	sheets, err := parser.ParseFiles(sheetFiles)
	if err != nil {
		op.Error(err, "Sheet parsing failed")
		return err
	}

	totalRows := 0
	for _, sheet := range sheets {
		totalRows += sheet.RowCount()
	}

	// Create component configurations
	verifierConfig, err := config.CreateVerifierConfig(tolerance, highThreshold, questionableThreshold)
	if err != nil {
		return err
	}
	calcConfig, err := config.CreateCalcConfig(feeConfidenceFloor)
	if err != nil {
		return err
	}
	volume, err := config.ParseMonthlyVolume(monthlyVolume)
	if err != nil {
		return err
	}

	// Progress tracking
	var tracker *logger.ProgressTracker
	var progressFn func(sheet string, processed, total int)
	if showProgress {
		tracker = logger.NewProgressTracker(logger.ProgressConfig{
			Operation: "verify",
			Total:     int64(totalRows),
		})
		progressFn = func(sheet string, processed, total int) {
			tracker.Increment()
			fmt.Fprintf(os.Stderr, "\r[%s] %d/%d rows", sheet, processed, total)
		}
	}

	options := config.CreateEngineOptions(rules.DefaultMatcherConfig(), calcConfig,
		verifierConfig, volume, parallelSheets, progressFn)

	// Run the verification
	op.Step("verify")
	eng, err := engine.New(contract, options)
	if err != nil {
		return err
	}
	outcome, err := eng.VerifySheets(ctx, sheets)
	if err != nil {
		if tracker != nil {
			tracker.CompleteWithError(err)
		}
		op.Error(err, "Verification failed")
		return err
	}
	if tracker != nil {
		tracker.Complete()
		fmt.Fprintf(os.Stderr, "\n")
	}

	// Generate the report
	op.Step("report")
	reportConfig, err := config.CreateReportConfig(outputFormat, verifierConfig, allVerifications)
	if err != nil {
		return err
	}
	rep, err := reporter.NewReporter(reportConfig)
	if err != nil {
		return err
	}

	// Determine output destination
	var output *os.File
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	} else {
		output = os.Stdout
	}

	if err := rep.Generate(output, outcome); err != nil {
		op.Error(err, "Report generation failed")
		return fmt.Errorf("failed to generate report: %w", err)
	}

	op.WithField("rows", totalRows).Success("Verification completed")

	// Show completion message
	if viper.GetBool("verbose") {
		summary := reporter.BuildSummary(outcome)
		fmt.Fprintf(os.Stderr, "\nVerification completed.\n")
		fmt.Fprintf(os.Stderr, "Processed %d transactions across %d sheets.\n",
			summary.TotalTransactions, len(outcome.Sheets))
		fmt.Fprintf(os.Stderr, "Found %d erroneous, %d questionable, %d with missing data.\n",
			summary.ErroneousCount, summary.QuestionableCount, summary.MissingDataCount)
		if summary.ErroneousCount > 0 {
			fmt.Fprintf(os.Stderr, "Total discrepancy: %s\n", summary.TotalDiscrepancy.StringFixed(2))
		}
	}

	return nil
}
