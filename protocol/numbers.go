package protocol

import (
	"math"
	"strconv"
)

// parseInt64 parses an int64 from a byte slice without allocation. Lenient
// mode trims surrounding blanks and accepts an explicit '+' sign.
func parseInt64(b []byte, strict bool) (int64, bool) {
	if !strict {
		b = trimBlank(b)
	}
	if len(b) == 0 {
		return 0, false
	}

	var neg bool
	switch b[0] {
	case '-':
		neg = true
		b = b[1:]
	case '+':
		if strict {
			return 0, false
		}
		b = b[1:]
	}

	// 19 digits cannot overflow a uint64
	if len(b) == 0 || len(b) > 19 {
		return 0, false
	}

	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}

	if neg {
		if n > 1<<63 {
			return 0, false
		}
		return -int64(n), true
	}
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

// parseDouble parses a RESP3 double. Strict mode accepts only the protocol
// grammar and the inf, -inf and nan tokens.
func parseDouble(b []byte, strict bool) (float64, bool) {
	if !strict {
		b = trimBlank(b)
	}
	switch string(b) {
	case "inf", "+inf":
		return math.Inf(1), true
	case "-inf":
		return math.Inf(-1), true
	case "nan", "-nan":
		return math.NaN(), true
	}
	if strict && !validDouble(b) {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// validDouble matches [-]digits[.digits][(e|E)[+|-]digits]
func validDouble(b []byte) bool {
	i := 0
	if i < len(b) && b[i] == '-' {
		i++
	}
	n := digits(b[i:])
	if n == 0 {
		return false
	}
	i += n
	if i < len(b) && b[i] == '.' {
		i++
		n = digits(b[i:])
		if n == 0 {
			return false
		}
		i += n
	}
	if i < len(b) && (b[i] == 'e' || b[i] == 'E') {
		i++
		if i < len(b) && (b[i] == '+' || b[i] == '-') {
			i++
		}
		n = digits(b[i:])
		if n == 0 {
			return false
		}
		i += n
	}
	return i == len(b)
}

// validBigNumber matches [-]digits, or [+|-]digits when lenient
func validBigNumber(b []byte, strict bool) bool {
	if len(b) > 0 && (b[0] == '-' || (b[0] == '+' && !strict)) {
		b = b[1:]
	}
	return len(b) > 0 && digits(b) == len(b)
}

func digits(b []byte) int {
	n := 0
	for n < len(b) && b[n] >= '0' && b[n] <= '9' {
		n++
	}
	return n
}

func trimBlank(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

// appendDouble writes f in the canonical RESP3 form
func appendDouble(dst []byte, f float64) []byte {
	switch {
	case math.IsInf(f, 1):
		return append(dst, "inf"...)
	case math.IsInf(f, -1):
		return append(dst, "-inf"...)
	case math.IsNaN(f):
		return append(dst, "nan"...)
	}
	return strconv.AppendFloat(dst, f, 'g', -1, 64)
}
