// Package daykey provides UTC day boundaries and the sortable row-key
// encoding used for per-day aggregate rows.
package daykey

import (
	"fmt"
	"strings"
	"time"
)

// Separator joins the encoded day and the account id in a row key.
const Separator = "|"

// rowLayout encodes a timestamp as YYYYMMDDHHmmss, which sorts
// lexicographically in chronological order.
const rowLayout = "20060102150405"

// StartOfDay returns midnight UTC of the calendar day containing t.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatStartRow encodes t (in UTC) as a fixed-width sortable string.
func FormatStartRow(t time.Time) string {
	return t.UTC().Format(rowLayout)
}

// RowKey builds the row key for (day, account).
// Formula: FormatStartRow(StartOfDay(day)) | account
func RowKey(day time.Time, account string) string {
	return FormatStartRow(StartOfDay(day)) + Separator + account
}

// ParseRowKey splits a row key produced by RowKey back into its day and account.
func ParseRowKey(key string) (time.Time, string, error) {
	encoded, account, ok := strings.Cut(key, Separator)
	if !ok || account == "" {
		return time.Time{}, "", fmt.Errorf("malformed row key %q", key)
	}

	day, err := time.ParseInLocation(rowLayout, encoded, time.UTC)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse row key day %q: %w", encoded, err)
	}

	return day, account, nil
}
