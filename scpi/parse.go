package scpi

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFunc converts a raw response to a typed value.
type ParseFunc[T any] func(resp string) (T, error)

// ParseFloat parses numeric responses such as "+1.10000000E+00".
func ParseFloat(resp string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ParseInt parses integer responses such as "+1" or "0".
func ParseInt(resp string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(resp))
}

// ParseBool parses boolean responses: "1", "0", "ON" or "OFF".
func ParseBool(resp string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "1", "+1", "ON":
		return true, nil
	case "0", "+0", "OFF":
		return false, nil
	default:
		return false, fmt.Errorf("%w: not a boolean: %q", ErrMalformedResponse, resp)
	}
}

// ParseString trims white space and surrounding double quotes.
func ParseString(resp string) (string, error) {
	return strings.Trim(strings.TrimSpace(resp), `"`), nil
}

// ParseErrorStatus parses the two field error status `<code>,"<message>"`.
func ParseErrorStatus(resp string) (int, string, error) {
	codeStr, msg, ok := strings.Cut(strings.TrimSpace(resp), ",")
	if !ok {
		return 0, "", fmt.Errorf("%w: error status without message: %q", ErrMalformedResponse, resp)
	}

	code, err := strconv.Atoi(strings.TrimSpace(codeStr))
	if err != nil {
		return 0, "", fmt.Errorf("%w: error status code %q", ErrMalformedResponse, codeStr)
	}

	return code, strings.Trim(strings.TrimSpace(msg), `"`), nil
}
