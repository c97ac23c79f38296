package util

import (
	"strings"
	"time"
)

// dateTokens are replaced in order, longest first, so "YYYY" is never read as two "YY".
var dateTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"hh", "15",
	"mm", "04",
	"ss", "05",
)

// FormatDateTpl formats a timestamp in milliseconds since the Unix epoch
// using a template with placeholders (YYYY, YY, MM, DD, hh, mm, ss), in loc.
// It returns "" if ts == 0. A nil loc means UTC.
//
// Example:
//
//	ts := int64(1699603200000)
//	FormatDateTpl(ts, "YYYY.MM.DD", nil)       // "2023.11.10"
//	FormatDateTpl(ts, "YYYY-MM-DD hh:mm", nil) // "2023-11-10 08:00"
func FormatDateTpl(ts int64, tpl string, loc *time.Location) string {
	if ts == 0 {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ts).In(loc).Format(dateTokens.Replace(tpl))
}
