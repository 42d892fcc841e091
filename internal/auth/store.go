package auth

import "time"

// timeLayout is RFC3339 with fixed-width nanoseconds. Stored values are UTC,
// so string comparison in SQL orders them chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or by older tooling may use plain RFC3339.
		t, _ = time.Parse(time.RFC3339Nano, s) //nolint:errcheck // zero time on garbage
	}
	return t.UTC()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
