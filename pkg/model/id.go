package model

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type SessionID string

// NewSessionID validates the raw value as a session identifier.
// Valid IDs are 1-64 characters of letters, digits, '-' or '_'.
func NewSessionID(raw string) (SessionID, error) {
	if !idPattern.MatchString(raw) {
		return "", goerr.Wrap(ErrInvalidID, "invalid session_id", goerr.V("session_id", raw))
	}
	return SessionID(raw), nil
}

func (x SessionID) String() string { return string(x) }

type ItemID string

// NewItemID validates the raw value as an item identifier.
func NewItemID(raw string) (ItemID, error) {
	if !idPattern.MatchString(raw) {
		return "", goerr.Wrap(ErrInvalidID, "invalid item_id", goerr.V("item_id", raw))
	}
	return ItemID(raw), nil
}

// GenerateItemID returns a fresh random item identifier.
func GenerateItemID() ItemID {
	return ItemID("tr_" + strings.ReplaceAll(uuid.New().String(), "-", ""))
}

func (x ItemID) String() string { return string(x) }
