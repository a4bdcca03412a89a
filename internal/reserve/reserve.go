// Package reserve tracks rolling-reserve withholding across a chronological
// stream of transactions. State is windowed: each holding period gets its own
// cumulative total, and the cap applies within a window.
package reserve

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/models"
	"fee-verification-service/internal/rules"
	"fee-verification-service/pkg/logger"
)

// Config holds the reserve terms for one tracked stream.
type Config struct {
	Rate              decimal.Decimal
	Cap               decimal.Decimal
	HoldingPeriodDays int
}

// FromContract builds a reserve config from contract terms.
func FromContract(c *rules.Contract) *Config {
	return &Config{
		Rate:              c.ReserveRate,
		Cap:               c.ReserveCap,
		HoldingPeriodDays: c.HoldingPeriodDays,
	}
}

// Validate checks the reserve terms.
func (c *Config) Validate() error {
	if c.Rate.IsNegative() || c.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("reserve rate out of range: %s", c.Rate)
	}
	if c.Cap.IsNegative() {
		return fmt.Errorf("reserve cap cannot be negative: %s", c.Cap)
	}
	if c.HoldingPeriodDays <= 0 {
		return fmt.Errorf("holding period must be positive, got %d", c.HoldingPeriodDays)
	}
	return nil
}

// Window is one holding-period accumulation, anchored at its first
// transaction's date.
type Window struct {
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	Withheld     decimal.Decimal `json:"withheld"`
	Transactions int             `json:"transactions"`
	Retired      bool            `json:"retired"`
}

// Application is the outcome of applying one transaction to the tracker.
type Application struct {
	// Withheld is the capped, rounded amount withheld for this transaction.
	Withheld decimal.Decimal
	// Uncapped is amount × rate before cap enforcement, rounded.
	Uncapped decimal.Decimal
	// CapReached is true when the cap truncated or zeroed the withholding.
	CapReached bool
	// OutOfOrder is true when the transaction's date precedes the previous
	// one. The transaction is still processed in arrival order.
	OutOfOrder bool
	// WindowStart anchors the window this transaction accumulated into.
	WindowStart time.Time
}

// Tracker accumulates reserve state over a transaction stream. It is not
// safe for concurrent use; each sheet gets its own tracker.
type Tracker struct {
	config          *Config
	windows         []*Window
	current         *Window
	lastDate        time.Time
	orderViolations []string
	logger          logger.Logger
}

// NewTracker creates a Tracker.
func NewTracker(config *Config) (*Tracker, error) {
	if config == nil {
		return nil, fmt.Errorf("reserve config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("reserve-tracker"),
	}, nil
}

// Apply withholds reserve for one transaction and returns what happened.
// The withheld amount is min(amount × rate, cap − cumulative), floored at
// zero. Transactions arriving out of chronological order are processed
// anyway and the violation recorded; reordering would change every
// subsequent cap decision.
func (t *Tracker) Apply(rec *models.TransactionRecord) Application {
	app := Application{}

	if !rec.Date.IsZero() {
		if !t.lastDate.IsZero() && rec.Date.Before(t.lastDate) {
			app.OutOfOrder = true
			t.orderViolations = append(t.orderViolations, fmt.Sprintf(
				"transaction %s dated %s arrived after %s",
				rec.TransactionID, rec.Date.Format("2006-01-02"), t.lastDate.Format("2006-01-02")))
		} else {
			t.lastDate = rec.Date
		}
	}

	w := t.windowFor(rec.Date)
	app.WindowStart = w.Start

	raw := rec.Amount.Mul(t.config.Rate)
	app.Uncapped = models.RoundMoney(raw)

	headroom := t.config.Cap.Sub(w.Withheld)
	if headroom.IsNegative() {
		headroom = decimal.Zero
	}
	withheld := raw
	if withheld.GreaterThan(headroom) {
		withheld = headroom
		app.CapReached = true
	}

	app.Withheld = models.RoundMoney(withheld)
	w.Withheld = w.Withheld.Add(app.Withheld)
	w.Transactions++

	return app
}

// windowFor returns the window a transaction accumulates into, opening a new
// one when the holding period since the current window's anchor has elapsed.
func (t *Tracker) windowFor(date time.Time) *Window {
	if t.current == nil {
		t.current = t.openWindow(date)
		return t.current
	}
	if date.IsZero() || t.current.Start.IsZero() {
		return t.current
	}
	if date.Before(t.current.End) {
		return t.current
	}

	t.current.Retired = true
	t.logger.WithFields(map[string]interface{}{
		"window_start": t.current.Start.Format("2006-01-02"),
		"withheld":     t.current.Withheld.StringFixed(2),
	}).Debug("Reserve window retired")

	t.current = t.openWindow(date)
	return t.current
}

func (t *Tracker) openWindow(date time.Time) *Window {
	w := &Window{Start: date, Withheld: decimal.Zero}
	if !date.IsZero() {
		w.End = date.AddDate(0, 0, t.config.HoldingPeriodDays)
	}
	t.windows = append(t.windows, w)
	return w
}

// Windows returns all windows opened so far, oldest first.
func (t *Tracker) Windows() []*Window {
	return t.windows
}

// CurrentWithheld returns the cumulative withholding of the active window.
func (t *Tracker) CurrentWithheld() decimal.Decimal {
	if t.current == nil {
		return decimal.Zero
	}
	return t.current.Withheld
}

// TotalWithheld sums withholding across every window.
func (t *Tracker) TotalWithheld() decimal.Decimal {
	total := decimal.Zero
	for _, w := range t.windows {
		total = total.Add(w.Withheld)
	}
	return total
}

// ReleasedTotal sums withholding in retired windows, i.e. amounts whose
// holding period has elapsed.
func (t *Tracker) ReleasedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, w := range t.windows {
		if w.Retired {
			total = total.Add(w.Withheld)
		}
	}
	return total
}

// OrderViolations returns the recorded chronological-order violations.
func (t *Tracker) OrderViolations() []string {
	return t.orderViolations
}
