package messaging

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxContentLength is the maximum number of characters in a message after trimming.
const MaxContentLength = 5000

// InvalidContentError explains why message content was rejected.
// It matches ErrInvalidContent.
type InvalidContentError struct {
	Reason string
	Length int
}

func (e *InvalidContentError) Error() string { return e.Reason }

func (e *InvalidContentError) Unwrap() error { return ErrInvalidContent }

// ValidateContent trims content and checks its length is within
// [1, MaxContentLength] characters. It returns the trimmed content.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 {
		return "", &InvalidContentError{Reason: "Message cannot be empty"}
	}
	if n > MaxContentLength {
		return "", &InvalidContentError{
			Reason: fmt.Sprintf("Message is too long (%d/%d characters)", n, MaxContentLength),
			Length: n,
		}
	}
	return trimmed, nil
}
