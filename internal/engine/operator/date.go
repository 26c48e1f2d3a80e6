package operator

import (
	"time"

	"github.com/wildfire-lending/guardrail/internal/engine/value"
)

func parseDate(op string, v value.Value) (time.Time, error) {
	text, ok := v.Text()
	if !ok {
		return time.Time{}, errf(op, "value of kind %s is not a date", v.Kind())
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errf(op, "unparseable date %q", text)
}
