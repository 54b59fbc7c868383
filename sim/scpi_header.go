package sim

import (
	"errors"
	"strconv"
	"strings"
)

// mnemonic maps long SCPI mnemonics to their short form.
var mnemonic = map[string]string{
	"APPLY":      "APPL",
	"BEEPER":     "BEEP",
	"CLEAR":      "CLE",
	"CURRENT":    "CURR",
	"ERROR":      "ERR",
	"INSTRUMENT": "INST",
	"MEASURE":    "MEAS",
	"NSELECT":    "NSEL",
	"OUTPUT":     "OUTP",
	"PROTECTION": "PROT",
	"SYSTEM":     "SYST",
	"VOLTAGE":    "VOLT",
	"IMMEDIATE":  "IMM",
	"SOURCE":     "SOUR",
	"LEVEL":      "LEV",
	"AMPLITUDE":  "AMPL",
	"STATE":      "STAT",
	"SCALAR":     "SCAL",
}

// optional nodes are dropped from normalized headers.
var optional = map[string]bool{
	"SOUR": true,
	"LEV":  true,
	"IMM":  true,
	"AMPL": true,
	"STAT": true,
	"SCAL": true,
}

// splitCommand splits a command line into its normalized header and argument text.
//
// "SOURce:VOLTage:LEVel 1.2,(@1)" becomes ("VOLT", "1.2,(@1)").
func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	header, args, _ := strings.Cut(line, " ")

	return normalizeHeader(header), strings.TrimSpace(args)
}

func normalizeHeader(header string) string {
	header = strings.ToUpper(header)
	if strings.HasPrefix(header, "*") {
		return header
	}

	query := strings.HasSuffix(header, "?")
	header = strings.TrimSuffix(header, "?")
	header = strings.TrimPrefix(header, ":")

	var nodes []string
	for _, tok := range strings.Split(header, ":") {
		short := shortForm(tok)
		if optional[short] {
			continue
		}
		nodes = append(nodes, short)
	}

	out := strings.Join(nodes, ":")
	if query {
		out += "?"
	}

	return out
}

func shortForm(tok string) string {
	for long, short := range mnemonic {
		if strings.HasPrefix(tok, short) && strings.HasPrefix(long, tok) {
			return short
		}
	}

	return tok
}

var errBadChannelList = errors.New("bad channel list")

// parseChanList parses "(@1)", "(@1,2)" or "(@1:3)".
func parseChanList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(@") || !strings.HasSuffix(s, ")") {
		return nil, errBadChannelList
	}
	body := s[2 : len(s)-1]

	var chans []int
	for _, part := range strings.Split(body, ",") {
		lo, hi, isRange := strings.Cut(strings.TrimSpace(part), ":")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, errBadChannelList
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil || last < first {
				return nil, errBadChannelList
			}
		}
		for ch := first; ch <= last; ch++ {
			chans = append(chans, ch)
		}
	}

	return chans, nil
}

// splitValueAndChans splits "1.2,(@1,2)" into "1.2" and its channel list.
func splitValueAndChans(args string) (string, []int, error) {
	idx := strings.Index(args, "(@")
	if idx < 0 {
		return strings.TrimSpace(args), nil, nil
	}

	chans, err := parseChanList(args[idx:])
	if err != nil {
		return "", nil, err
	}
	value := strings.TrimRight(strings.TrimSpace(args[:idx]), ",")

	return strings.TrimSpace(value), chans, nil
}
