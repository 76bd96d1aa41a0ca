package metadata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/pitabwire/concierge/model"
)

// Column formats.
const (
	FormatText     = "text"
	FormatNumber   = "number"
	FormatCurrency = "currency"
	FormatDate     = "date"
	FormatStatus   = "status"
	FormatBool     = "bool"
)

// Boolean cell message IDs.
const (
	MessageYes = "common.yes"
	MessageNo  = "common.no"
)

type renderers struct {
	tr      model.Translator
	printer *message.Printer
}

func newRenderers(tr model.Translator, locale string) renderers {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return renderers{tr: tr, printer: message.NewPrinter(tag)}
}

func (r renderers) forColumn(c model.ColumnDefinition, labels map[string]string) func(Row) string {
	key := c.Key
	switch columnType(c) {
	case FormatNumber:
		return func(row Row) string { return r.number(lookup(row, key), c.Format) }
	case FormatCurrency:
		return func(row Row) string { return r.currency(lookup(row, key), c.Format) }
	case FormatDate:
		return func(row Row) string { return date(lookup(row, key), c.Format) }
	case FormatStatus:
		return func(row Row) string { return r.status(lookup(row, key), labels) }
	case FormatBool:
		return func(row Row) string { return r.boolean(lookup(row, key)) }
	default:
		return func(row Row) string { return text(lookup(row, key)) }
	}
}

// lookup reads key from row, descending into nested objects on dots.
func lookup(row Row, key string) any {
	if v, ok := row[key]; ok {
		return v
	}
	var cur any = row
	for part := range strings.SplitSeq(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// number formats with locale grouping. format is the number of decimals;
// empty keeps up to three.
func (r renderers) number(v any, format string) string {
	f, ok := toFloat(v)
	if !ok {
		return text(v)
	}
	if scale, err := strconv.Atoi(format); err == nil && scale >= 0 {
		return r.printer.Sprint(number.Decimal(f, number.Scale(scale)))
	}
	return r.printer.Sprint(number.Decimal(f, number.MaxFractionDigits(3)))
}

// currency formats an amount in the ISO currency named by format, using the
// currency's standard number of decimals.
func (r renderers) currency(v any, format string) string {
	f, ok := toFloat(v)
	if !ok {
		return text(v)
	}
	unit, err := currency.ParseISO(format)
	if err != nil {
		return r.number(f, "2")
	}
	scale, _ := currency.Standard.Rounding(unit)
	return unit.String() + " " + r.printer.Sprint(number.Decimal(f, number.Scale(scale)))
}

// date reformats RFC 3339 or YYYY-MM-DD values with the Go layout in
// format, YYYY-MM-DD by default. Unparsable values are shown as is.
func date(v any, format string) string {
	s := text(v)
	if s == "" {
		return ""
	}
	layout := format
	if layout == "" {
		layout = time.DateOnly
	}
	for _, in := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if t, err := time.Parse(in, s); err == nil {
			return t.Format(layout)
		}
	}
	return s
}

func (r renderers) status(v any, labels map[string]string) string {
	s := text(v)
	if label, ok := labels[s]; ok {
		return r.tr.T(label)
	}
	return s
}

func (r renderers) boolean(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return r.tr.T(MessageYes)
		}
		return r.tr.T(MessageNo)
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return r.boolean(b)
		}
	}
	return text(v)
}
