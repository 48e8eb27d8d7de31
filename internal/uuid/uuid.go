// Package uuid provides identifier generation for queued requests and action logs.
//
// Queue ids are UUID v7: a 48-bit millisecond timestamp followed by random bits,
// so lexical order matches creation order.
package uuid

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var (
	uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	uuidV7Regex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
)

// New generates a new random UUID v4.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a time-ordered UUID v7. Successive calls in one
// process are strictly increasing.
func NewOrdered() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate ordered id: %w", err)
	}
	return id.String(), nil
}

// CreatedAt returns the millisecond timestamp embedded in a UUID v7.
func CreatedAt(s string) (time.Time, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 7 {
		return time.Time{}, fmt.Errorf("expected UUID v7, got v%d", id.Version())
	}
	var buf [8]byte
	copy(buf[2:], id[:6])
	ms := int64(binary.BigEndian.Uint64(buf[:]))
	return time.UnixMilli(ms), nil
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// IsOrdered checks if a string is a canonical lowercase UUID v7.
func IsOrdered(s string) bool {
	return uuidV7Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid queue id.
func Validate(s string) error {
	if !IsOrdered(s) {
		return fmt.Errorf("invalid UUID v7 format: %q", s)
	}
	return nil
}
