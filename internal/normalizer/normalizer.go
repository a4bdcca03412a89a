// Package normalizer maps arbitrary spreadsheet headers onto the canonical
// transaction fields the verification pipeline understands. Mapping is fuzzy
// and every inexact match is surfaced as a detection assumption rather than
// silently accepted.
package normalizer

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/models"
	"fee-verification-service/pkg/logger"
)

// Confidence levels assigned by the header matching ladder. A fuzzy match is
// never reported above the exact-match level.
const (
	ConfidenceExact    = 1.0
	ConfidencePrefix   = 0.9
	ConfidenceSuffix   = 0.8
	ConfidenceContains = 0.7
	ConfidenceFuzzy    = 0.6
	ConfidenceDistant  = 0.5
)

// MinMappingConfidence is the floor below which a column is left unmapped.
const MinMappingConfidence = 0.5

// AmbiguityThreshold marks competing candidates strong enough to matter.
const AmbiguityThreshold = 0.7

// FieldMapping records how one source column was resolved to a canonical field.
type FieldMapping struct {
	SourceColumn string         `json:"source_column"`
	Field        CanonicalField `json:"field"`
	Confidence   float64        `json:"confidence"`
	Reasoning    string         `json:"reasoning"`
}

// MappingResult is the outcome of normalizing one sheet schema. It is built
// once per distinct header set and shared read-only afterward.
type MappingResult struct {
	// Mapped holds the winning column per detected canonical field.
	Mapped map[CanonicalField]FieldMapping `json:"mapped"`

	// UnmappedColumns lists source headers no canonical field claimed.
	UnmappedColumns []string `json:"unmapped_columns"`

	// MissingFields lists canonical fields no column matched.
	MissingFields []CanonicalField `json:"missing_fields"`

	// Assumptions records every inexact mapping in human-readable form.
	Assumptions []string `json:"assumptions"`

	// Ambiguities records fields where multiple columns were plausible.
	Ambiguities []string `json:"ambiguities"`
}

// HasField reports whether the field was mapped at any confidence.
func (m *MappingResult) HasField(f CanonicalField) bool {
	_, ok := m.Mapped[f]
	return ok
}

// FieldConfidence returns the mapping confidence for a field, 0 when unmapped.
func (m *MappingResult) FieldConfidence(f CanonicalField) float64 {
	if fm, ok := m.Mapped[f]; ok {
		return fm.Confidence
	}
	return 0
}

// Value reads the raw cell for a canonical field from a row keyed by the
// original headers. The second return is false when the field is unmapped or
// the cell is empty.
func (m *MappingResult) Value(row map[string]string, f CanonicalField) (string, bool) {
	fm, ok := m.Mapped[f]
	if !ok {
		return "", false
	}
	v, ok := row[fm.SourceColumn]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Clone returns a deep copy that can be refined per sheet without touching
// the cached original.
func (m *MappingResult) Clone() *MappingResult {
	clone := &MappingResult{
		Mapped:          make(map[CanonicalField]FieldMapping, len(m.Mapped)),
		UnmappedColumns: append([]string(nil), m.UnmappedColumns...),
		MissingFields:   append([]CanonicalField(nil), m.MissingFields...),
		Assumptions:     append([]string(nil), m.Assumptions...),
		Ambiguities:     append([]string(nil), m.Ambiguities...),
	}
	for field, fm := range m.Mapped {
		clone.Mapped[field] = fm
	}
	return clone
}

// Normalizer resolves sheet schemas to canonical field mappings. Schemas are
// cached by their header set so a sheet's mapping is computed exactly once.
type Normalizer struct {
	mu     sync.RWMutex
	cache  map[string]*MappingResult
	logger logger.Logger
}

// NewNormalizer creates a Normalizer with an empty schema cache.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		cache:  make(map[string]*MappingResult),
		logger: logger.GetGlobalLogger().WithComponent("normalizer"),
	}
}

// Normalize returns the mapping for the given header set, computing and
// caching it on first sight. The returned result must be treated as read-only.
func (n *Normalizer) Normalize(columns []string) *MappingResult {
	key := schemaKey(columns)

	n.mu.RLock()
	cached, ok := n.cache[key]
	n.mu.RUnlock()
	if ok {
		return cached
	}

	result := normalizeSchema(columns)

	n.mu.Lock()
	// Another goroutine may have populated the key while we computed.
	if existing, ok := n.cache[key]; ok {
		n.mu.Unlock()
		return existing
	}
	n.cache[key] = result
	n.mu.Unlock()

	n.logger.WithFields(map[string]interface{}{
		"columns":  len(columns),
		"mapped":   len(result.Mapped),
		"unmapped": len(result.UnmappedColumns),
	}).Debug("Schema normalized")

	return result
}

// CachedSchemas returns the number of distinct schemas seen so far.
func (n *Normalizer) CachedSchemas() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.cache)
}

func schemaKey(columns []string) string {
	sorted := make([]string, len(columns))
	copy(sorted, columns)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}

type candidate struct {
	column     string
	field      CanonicalField
	confidence float64
	reasoning  string
	fieldOrder int
	colOrder   int
}

// normalizeSchema performs the actual fuzzy matching. Pure function of the
// header list, which is what makes caching sound.
func normalizeSchema(columns []string) *MappingResult {
	fields := allCanonicalFields()
	fieldOrder := make(map[CanonicalField]int, len(fields))
	for i, f := range fields {
		fieldOrder[f] = i
	}

	var candidates []candidate
	// perField collects all plausible columns per field for ambiguity checks.
	perField := make(map[CanonicalField][]candidate)

	for colIdx, col := range columns {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		for _, field := range fields {
			best := 0.0
			reasoning := ""
			for _, syn := range fieldSynonyms[field] {
				conf, how := matchConfidence(syn, normalized)
				if conf > best {
					best = conf
					reasoning = how
				}
			}
			if best >= MinMappingConfidence {
				c := candidate{
					column:     col,
					field:      field,
					confidence: best,
					reasoning:  reasoning,
					fieldOrder: fieldOrder[field],
					colOrder:   colIdx,
				}
				candidates = append(candidates, c)
				perField[field] = append(perField[field], c)
			}
		}
	}

	// Greedy assignment: strongest matches claim their columns first, ties
	// broken by field order then column order so results are deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		if candidates[i].fieldOrder != candidates[j].fieldOrder {
			return candidates[i].fieldOrder < candidates[j].fieldOrder
		}
		return candidates[i].colOrder < candidates[j].colOrder
	})

	result := &MappingResult{Mapped: make(map[CanonicalField]FieldMapping)}
	usedColumns := make(map[string]bool)

	for _, c := range candidates {
		if usedColumns[c.column] {
			continue
		}
		if _, taken := result.Mapped[c.field]; taken {
			continue
		}
		result.Mapped[c.field] = FieldMapping{
			SourceColumn: c.column,
			Field:        c.field,
			Confidence:   c.confidence,
			Reasoning:    c.reasoning,
		}
		usedColumns[c.column] = true
	}

	for _, col := range columns {
		if !usedColumns[col] {
			result.UnmappedColumns = append(result.UnmappedColumns, col)
		}
	}

	for _, field := range fields {
		fm, ok := result.Mapped[field]
		if !ok {
			result.MissingFields = append(result.MissingFields, field)
			continue
		}
		if fm.Confidence < ConfidenceExact {
			result.Assumptions = append(result.Assumptions,
				"Mapped column '"+fm.SourceColumn+"' to "+field.String()+
					" ("+fm.Reasoning+", confidence "+formatConfidence(fm.Confidence)+")")
		}

		strong := 0
		var others []string
		for _, c := range perField[field] {
			if c.confidence >= AmbiguityThreshold {
				strong++
				if c.column != fm.SourceColumn {
					others = append(others, c.column)
				}
			}
		}
		if strong >= 2 {
			result.Ambiguities = append(result.Ambiguities,
				"Multiple columns plausible for "+field.String()+
					": chose '"+fm.SourceColumn+"' over "+strings.Join(quoteAll(others), ", "))
		}
	}

	return result
}

// matchConfidence scores how well a known synonym matches a normalized header.
// Exact 1.0, prefix 0.9, suffix 0.8, substring 0.7, edit distance of up to
// two characters 0.6, exactly three 0.5, otherwise 0.
func matchConfidence(synonym, header string) (float64, string) {
	if header == synonym {
		return ConfidenceExact, "exact match with '" + synonym + "'"
	}
	if strings.HasPrefix(header, synonym) {
		return ConfidencePrefix, "prefix match with '" + synonym + "'"
	}
	if strings.HasSuffix(header, synonym) {
		return ConfidenceSuffix, "suffix match with '" + synonym + "'"
	}
	if strings.Contains(header, synonym) {
		return ConfidenceContains, "contains '" + synonym + "'"
	}
	switch d := levenshtein(header, synonym); {
	case d <= 2:
		return ConfidenceFuzzy, "close spelling of '" + synonym + "'"
	case d == 3:
		return ConfidenceDistant, "loose spelling of '" + synonym + "'"
	}
	return 0, ""
}

// levenshtein computes edit distance over runes so Cyrillic headers are
// measured per character, not per byte.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

func quoteAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = "'" + s + "'"
	}
	return out
}

func formatConfidence(c float64) string {
	d := decimal.NewFromFloat(c)
	return d.StringFixed(2)
}

// valueProfileSampleSize caps how many rows the rate-profile check reads.
const valueProfileSampleSize = 20

// valueProfileTolerancePP is the allowed deviation, in percentage points,
// between an observed fee-to-amount ratio and a contractual rate.
var valueProfileTolerancePP = decimal.NewFromFloat(0.002)

// DisambiguateByValueProfile refines commission-family mappings by inspecting
// actual cell values. When the commission and rolling-reserve columns were
// matched by header alone, sampled fee-to-amount ratios are compared against
// the contract's remuneration and reserve rates; if the observed profiles say
// the two columns are swapped, a corrected copy is returned with the
// correction recorded as an assumption. The input mapping may be cached and
// shared across sheets and is never modified.
func (n *Normalizer) DisambiguateByValueProfile(result *MappingResult, rows []map[string]string, remunerationRate, reserveRate decimal.Decimal) *MappingResult {
	amountMapping, ok := result.Mapped[FieldAmount]
	if !ok {
		return result
	}

	commission, hasCommission := result.Mapped[FieldCommission]
	reserve, hasReserve := result.Mapped[FieldRollingReserve]
	if !hasCommission || !hasReserve {
		return result
	}
	// Exact header matches are trusted over value profiles.
	if commission.Confidence >= ConfidenceExact && reserve.Confidence >= ConfidenceExact {
		return result
	}

	commissionRatio, okC := observedRatio(rows, amountMapping.SourceColumn, commission.SourceColumn)
	reserveRatio, okR := observedRatio(rows, amountMapping.SourceColumn, reserve.SourceColumn)
	if !okC || !okR {
		return result
	}

	commissionLooksLikeReserve := ratioNear(commissionRatio, reserveRate) && !ratioNear(commissionRatio, remunerationRate)
	reserveLooksLikeCommission := ratioNear(reserveRatio, remunerationRate) && !ratioNear(reserveRatio, reserveRate)

	if !commissionLooksLikeReserve || !reserveLooksLikeCommission {
		return result
	}

	swapped := FieldMapping{
		SourceColumn: reserve.SourceColumn,
		Field:        FieldCommission,
		Confidence:   0.75,
		Reasoning:    "value profile matches remuneration rate",
	}
	swappedReserve := FieldMapping{
		SourceColumn: commission.SourceColumn,
		Field:        FieldRollingReserve,
		Confidence:   0.75,
		Reasoning:    "value profile matches reserve rate",
	}

	refined := result.Clone()
	refined.Mapped[FieldCommission] = swapped
	refined.Mapped[FieldRollingReserve] = swappedReserve
	refined.Assumptions = append(refined.Assumptions,
		"Swapped commission and rolling-reserve columns based on observed fee-to-amount ratios"+
			" ('"+swapped.SourceColumn+"' ~ "+remunerationRate.Mul(decimal.NewFromInt(100)).StringFixed(1)+"%,"+
			" '"+swappedReserve.SourceColumn+"' ~ "+reserveRate.Mul(decimal.NewFromInt(100)).StringFixed(1)+"%)")

	n.logger.WithFields(map[string]interface{}{
		"commission_column": swapped.SourceColumn,
		"reserve_column":    swappedReserve.SourceColumn,
	}).Info("Commission columns reassigned by value profile")

	return refined
}

// observedRatio returns the median fee-to-amount ratio over sampled rows.
func observedRatio(rows []map[string]string, amountCol, feeCol string) (decimal.Decimal, bool) {
	var ratios []decimal.Decimal
	for _, row := range rows {
		if len(ratios) >= valueProfileSampleSize {
			break
		}
		amount, err := models.ParseDecimalFromString(row[amountCol])
		if err != nil || amount.IsZero() {
			continue
		}
		fee, err := models.ParseDecimalFromString(row[feeCol])
		if err != nil {
			continue
		}
		ratios = append(ratios, fee.Div(amount))
	}
	if len(ratios) == 0 {
		return decimal.Zero, false
	}
	sort.Slice(ratios, func(i, j int) bool { return ratios[i].LessThan(ratios[j]) })
	return ratios[len(ratios)/2], true
}

func ratioNear(observed, rate decimal.Decimal) bool {
	return observed.Sub(rate).Abs().LessThanOrEqual(valueProfileTolerancePP)
}
