package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/midi-sniffer/backend/internal/models"
)

// ParseAddress parses a 4-hex address field such as "900B" or "B640".
// The first byte must be a channel-voice status; the second a 7-bit data byte.
func ParseAddress(field string) (models.Address, error) {
	s := strings.TrimSpace(field)
	if len(s) != 4 {
		return models.Address{}, fmt.Errorf("address %q: want 4 hex characters, got %d", s, len(s))
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return models.Address{}, fmt.Errorf("address %q: non-hex character %q", s, s[i])
		}
	}

	status, _ := strconv.ParseUint(s[:2], 16, 8)
	data1, _ := strconv.ParseUint(s[2:], 16, 8)

	class := models.MessageClass(status >> 4)
	if !class.Valid() {
		return models.Address{}, fmt.Errorf("address %q: status %02X is not a channel message", s, status)
	}
	if data1 > 0x7F {
		return models.Address{}, fmt.Errorf("address %q: data byte %02X exceeds 7 bits", s, data1)
	}

	return models.Address{
		Class:   class,
		Channel: uint8(status & 0x0F),
		Data1:   uint8(data1),
	}, nil
}

// ParseDeckSlot parses one deck column. A 1-2 digit decimal is a channel offset,
// 4 hex characters a full address, and an empty field a blank slot.
func ParseDeckSlot(field string) (models.DeckSlot, error) {
	s := strings.TrimSpace(field)
	if s == "" {
		return models.DeckSlot{Kind: models.DeckSlotBlank}, nil
	}

	if len(s) <= 2 && isDecimal(s) {
		n, _ := strconv.Atoi(s)
		if n > 15 {
			return models.DeckSlot{}, fmt.Errorf("deck offset %d out of range 0-15", n)
		}
		return models.DeckSlot{Kind: models.DeckSlotOffset, Offset: uint8(n)}, nil
	}

	addr, err := ParseAddress(s)
	if err != nil {
		return models.DeckSlot{}, fmt.Errorf("deck column: %w", err)
	}
	return models.DeckSlot{Kind: models.DeckSlotAddress, Address: addr}, nil
}

// isCommentedOut reports address fields disabled with a leading '#'.
func isCommentedOut(field string) bool {
	return strings.HasPrefix(strings.TrimSpace(field), "#")
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
