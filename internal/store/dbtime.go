package store

import (
	"fmt"
	"time"
)

// dbTimeLayout is fixed width so stored timestamps sort lexically.
const dbTimeLayout = "2006-01-02T15:04:05.000000000Z"

var dbTimeParseLayouts = []string{
	dbTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func dbTimeValue(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

// dbTime scans timestamp columns whether the driver hands back text or
// time.Time.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		*t = dbTime{Time: x.UTC(), Valid: true}
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	case int64:
		*t = dbTime{Time: time.Unix(x, 0).UTC(), Valid: true}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into timestamp", v)
	}
}

func (t *dbTime) parse(s string) error {
	if s == "" {
		*t = dbTime{}
		return nil
	}
	for _, layout := range dbTimeParseLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = dbTime{Time: parsed.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// Ptr returns a pointer to the time, or nil when the column was NULL.
func (t dbTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
