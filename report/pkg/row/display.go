package row

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/settings"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// TypedValue renders the cell for c with its prefix and postfix. Numbers are
// grouped by thousands and dates are printed as calendar days.
func (r *Row) TypedValue(c *column.Column) string {
	v := r.Value(c.Key)
	if value.IsEmpty(v) {
		return ""
	}

	var s string
	switch c.Type {
	case "date":
		if t, ok := value.Time(v); ok {
			s = t.Format(settings.DateLayout)
		}
	case "number", "":
		if f, ok := value.Float(v); ok {
			s = groupThousands(f)
		}
	}
	if s == "" {
		s = value.String(v)
	}
	return c.Prefix + s + c.Postfix
}

var numberPrinter = message.NewPrinter(language.English)

// groupThousands keeps every fraction digit of the shortest representation.
func groupThousands(f float64) string {
	digits := 0
	raw := strconv.FormatFloat(f, 'f', -1, 64)
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		digits = len(raw) - i - 1
	}
	return numberPrinter.Sprint(number.Decimal(f, number.MinFractionDigits(digits), number.MaxFractionDigits(digits)))
}
