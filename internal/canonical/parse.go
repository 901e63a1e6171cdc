package canonical

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/telhawk-systems/finops/internal/hashing"
)

// Symbol normalizes a ticker symbol.
func Symbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Trim removes surrounding whitespace.
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// Decimal parses a vendor numeric string through an exact decimal
// representation before converting to float64.
func Decimal(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// RequiredDecimal converts a decoded vendor number that must be present.
// A missing field or an explicit null is an error rather than zero.
func RequiredDecimal(field string, d decimal.NullDecimal) (float64, error) {
	if !d.Valid {
		return 0, fmt.Errorf("missing required field %q", field)
	}
	return d.Decimal.InexactFloat64(), nil
}

// Percent parses a percentage string such as "1.15%" or "-0.4" into a
// plain float (1.15, -0.4). An empty string yields nil.
func Percent(s string) (*float64, error) {
	cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if cleaned == "" {
		return nil, nil
	}
	v, err := Decimal(cleaned)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// Timestamp parses an ISO-8601 style timestamp and returns it in UTC.
// Values without a zone are taken to be UTC; a bare date means midnight UTC.
func Timestamp(s string) (time.Time, error) {
	cleaned := strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// OptionalTimestamp parses s if it is a recognizable timestamp and returns
// nil for empty or free-form values such as "2 hours ago".
func OptionalTimestamp(s string) *time.Time {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	t, err := Timestamp(s)
	if err != nil {
		return nil
	}
	return &t
}

// NormalizeURL trims the URL and lower-cases its scheme and host so that
// cosmetic differences do not defeat deduplication.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return trimmed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// DocumentHash derives the deduplication key of a news item from its
// normalized URL, trimmed title, trimmed snippet and UTC publication time.
func DocumentHash(sourceURL, title, snippet string, publishedAt *time.Time) string {
	var published any
	if publishedAt != nil {
		published = publishedAt.UTC().Format(time.RFC3339Nano)
	}
	return hashing.MustHash(map[string]any{
		"url":          NormalizeURL(sourceURL),
		"title":        Trim(title),
		"snippet":      Trim(snippet),
		"published_at": published,
	})
}
