package scenario

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO date format extracted fields use.
const DateLayout = "2006-01-02"

// Context is a normalised view over extracted fields. Every accessor
// returns nil when the field is absent, empty, "none" or unparseable.
type Context struct {
	ScenarioType string
	raw          map[string]string
}

// NewContext wraps a raw field mapping. The scenario type is trimmed and
// lower-cased.
func NewContext(raw map[string]string) *Context {
	if raw == nil {
		raw = map[string]string{}
	}
	return &Context{
		ScenarioType: strings.ToLower(strings.TrimSpace(raw[FieldScenarioType])),
		raw:          raw,
	}
}

// Raw returns the untouched field value.
func (c *Context) Raw(key string) string {
	return c.raw[key]
}

// Amount parses a monetary field, dropping thousands separators.
func (c *Context) Amount(key string) *decimal.Decimal {
	return parseDecimal(c.raw[key])
}

// Float parses a plain numeric field such as a rate.
func (c *Context) Float(key string) *decimal.Decimal {
	return parseDecimal(c.raw[key])
}

var (
	maxInt = decimal.NewFromInt(int64(math.MaxInt))
	minInt = decimal.NewFromInt(int64(math.MinInt))
)

// Int parses a numeric field and truncates it toward zero. Values outside
// the int range saturate at its bounds.
func (c *Context) Int(key string) *int {
	d := c.Whole(key)
	if d == nil {
		return nil
	}
	var n int
	switch {
	case d.GreaterThan(maxInt):
		n = math.MaxInt
	case d.LessThan(minInt):
		n = math.MinInt
	default:
		n = int(d.IntPart())
	}
	return &n
}

// Whole parses a numeric field and truncates it toward zero, with no range
// limit.
func (c *Context) Whole(key string) *decimal.Decimal {
	d := parseDecimal(c.raw[key])
	if d == nil {
		return nil
	}
	w := d.Truncate(0)
	return &w
}

// ISODate parses a YYYY-MM-DD field.
func (c *Context) ISODate(key string) *time.Time {
	s := c.raw[key]
	if isUnset(s) {
		return nil
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &t
}

func parseDecimal(s string) *decimal.Decimal {
	if isUnset(s) {
		return nil
	}
	cleaned := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil
	}
	return &d
}

func isUnset(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "none")
}
