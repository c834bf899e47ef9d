// Package session manages time-boxed attendance sessions.
package session

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Policy decides who may check in to a session.
type Policy int

const (
	// PolicyWhitelist admits only roster-registered students.
	PolicyWhitelist Policy = iota
	// PolicyOpen admits anyone; unregistered students self-declare a name.
	PolicyOpen
)

// ParsePolicy maps the wire/storage form to a Policy. Unknown or empty input
// falls back to whitelist, matching session creation defaults.
func ParsePolicy(s string) Policy {
	if s == "open" {
		return PolicyOpen
	}
	return PolicyWhitelist
}

func (p Policy) String() string {
	switch p {
	case PolicyOpen:
		return "open"
	case PolicyWhitelist:
		return "whitelist"
	default:
		return "whitelist"
	}
}

// Value implements driver.Valuer.
func (p Policy) Value() (driver.Value, error) {
	return p.String(), nil
}

// Scan implements sql.Scanner.
func (p *Policy) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*p = ParsePolicy(v)
	case []byte:
		*p = ParsePolicy(string(v))
	default:
		return fmt.Errorf("scan policy: unsupported type %T", src)
	}
	return nil
}

// MarshalJSON renders the policy as its string form.
func (p Policy) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON accepts the string form.
func (p *Policy) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	*p = ParsePolicy(s)
	return nil
}

// Session is one attendance-taking window.
type Session struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Policy          Policy     `json:"policy"`
	RequireLocation bool       `json:"requireLocation"`
	StartAt         time.Time  `json:"startAt"`
	EndAt           *time.Time `json:"endAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	CreatedBy       string     `json:"createdBy"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Active reports whether the session accepts check-ins at the given instant:
// not closed and not past its expiry.
func (s *Session) Active(now time.Time) bool {
	return s.EndAt == nil && s.ExpiresAt.After(now)
}

const (
	minTTLMinutes = 1
	maxTTLMinutes = 1440
)

// ClampTTLMinutes bounds a requested session lifetime to [1, 1440] minutes.
// Zero or negative requests get the default of 15 minutes.
func ClampTTLMinutes(ttl int) int {
	if ttl <= 0 {
		return 15
	}
	if ttl < minTTLMinutes {
		return minTTLMinutes
	}
	if ttl > maxTTLMinutes {
		return maxTTLMinutes
	}
	return ttl
}
