package database

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sqliteTimeLayout is fixed width so that stored timestamps sort lexicographically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Rebind rewrites ? placeholders to the driver's native form.
func Rebind(d Driver, query string) string {
	if d != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TimeArg converts t into the value the driver stores for a timestamp column.
func TimeArg(d Driver, t time.Time) any {
	t = t.UTC()
	if d == DriverSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

// NullTimeArg is TimeArg for nullable columns.
func NullTimeArg(d Driver, t *time.Time) any {
	if t == nil {
		return nil
	}
	return TimeArg(d, *t)
}

// Timestamp scans timestamp columns stored natively (PostgreSQL) or as text (SQLite).
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.Time, ts.Valid = time.Time{}, false
		return nil
	case time.Time:
		ts.Time, ts.Valid = v.UTC(), true
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
}

func (ts *Timestamp) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time, ts.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

// Ptr returns nil for NULL, otherwise a pointer to the time.
func (ts Timestamp) Ptr() *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

// Value implements driver.Valuer using the SQLite text form.
func (ts Timestamp) Value() (driver.Value, error) {
	if !ts.Valid {
		return nil, nil
	}
	return ts.Time.UTC().Format(sqliteTimeLayout), nil
}
