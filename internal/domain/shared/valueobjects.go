// Package shared contains common domain types, errors and value objects
// that are used across all domain packages.
package shared

import (
	"math"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies a learner. The identity provider owns the format, so
// only emptiness and length are checked here.
type UserID string

// IsValid checks if the user ID is usable.
func (u UserID) IsValid() bool {
	return validOpaqueID(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	u := UserID(strings.TrimSpace(id))
	if !u.IsValid() {
		return "", ErrInvalidUserID
	}
	return u, nil
}

// CourseID identifies a course in the catalog.
type CourseID string

// IsValid checks if the course ID is usable.
func (c CourseID) IsValid() bool {
	return validOpaqueID(string(c))
}

// String returns the string representation.
func (c CourseID) String() string {
	return string(c)
}

// NewCourseID creates a new CourseID with validation.
func NewCourseID(id string) (CourseID, error) {
	c := CourseID(strings.TrimSpace(id))
	if !c.IsValid() {
		return "", ErrInvalidCourseID
	}
	return c, nil
}

// ContentID identifies a content item (video, document). The zero value
// means "no content item".
type ContentID string

// IsZero reports whether no content item is referenced.
func (c ContentID) IsZero() bool {
	return c == ""
}

// String returns the string representation.
func (c ContentID) String() string {
	return string(c)
}

const maxOpaqueIDLength = 128

func validOpaqueID(s string) bool {
	return s != "" && len(s) <= maxOpaqueIDLength && strings.TrimSpace(s) == s
}

// ═══════════════════════════════════════════════════════════════════════════
// Percentage
// ═══════════════════════════════════════════════════════════════════════════

// Percentage is a value in [0, 100].
type Percentage float64

const (
	MinPercentage Percentage = 0
	MaxPercentage Percentage = 100
)

// ClampPercentage forces any reported value into [0, 100]. NaN maps to 0.
func ClampPercentage(v float64) Percentage {
	if math.IsNaN(v) || v < 0 {
		return MinPercentage
	}
	if v > 100 {
		return MaxPercentage
	}
	return Percentage(v)
}

// Float64 returns the underlying value.
func (p Percentage) Float64() float64 {
	return float64(p)
}

// Max returns the larger of the two percentages.
func (p Percentage) Max(other Percentage) Percentage {
	if other > p {
		return other
	}
	return p
}

// AtLeast reports whether the percentage reached the threshold.
func (p Percentage) AtLeast(threshold float64) bool {
	return float64(p) >= threshold
}

// ═══════════════════════════════════════════════════════════════════════════
// Rounding helpers
// ═══════════════════════════════════════════════════════════════════════════

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
