package clamav

import (
	"bytes"
	"strings"
)

// Verdict classifies a daemon reply.
type Verdict int

const (
	// VerdictUnknown is a reply with an unrecognized suffix.
	VerdictUnknown Verdict = iota
	// VerdictClean is a reply ending in ": OK".
	VerdictClean
	// VerdictError is a reply ending in ": ERROR"; the daemon failed to scan.
	VerdictError
	// VerdictInfected is a reply ending in " FOUND", which also covers ": FOUND".
	VerdictInfected
)

// String returns the lower-case verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictError:
		return "error"
	case VerdictInfected:
		return "infected"
	default:
		return "unknown"
	}
}

const (
	suffixOK    = ": OK"
	suffixError = ": ERROR"
	// clamd puts the signature name between the colon and FOUND.
	suffixFound = " FOUND"
)

// Outcome is the interpreted result of a completed scan.
type Outcome struct {
	Verdict Verdict
	// Raw is the reply line without its NUL terminator.
	Raw []byte
}

// Detail returns the raw reply as a string.
func (o Outcome) Detail() string {
	return string(o.Raw)
}

// IsClean reports whether the daemon found nothing.
func (o Outcome) IsClean() bool {
	return o.Verdict == VerdictClean
}

// IsInfected reports whether the daemon matched a signature.
func (o Outcome) IsInfected() bool {
	return o.Verdict == VerdictInfected
}

// Signature returns the matched signature name for an infected outcome,
// e.g. "Eicar-Test-Signature" for "stream: Eicar-Test-Signature FOUND".
func (o Outcome) Signature() string {
	if o.Verdict != VerdictInfected {
		return ""
	}
	line := strings.TrimSuffix(string(o.Raw), suffixFound)
	if i := strings.LastIndex(line, ": "); i >= 0 {
		line = line[i+2:]
	}
	return strings.TrimSpace(line)
}

// Interpret classifies a daemon reply. It is total: every input maps to a
// verdict. Bytes from the first NUL onwards are ignored.
func Interpret(raw []byte) Outcome {
	raw = trimAtNUL(raw)
	out := Outcome{Raw: raw}
	switch {
	case bytes.HasSuffix(raw, []byte(suffixOK)):
		out.Verdict = VerdictClean
	case bytes.HasSuffix(raw, []byte(suffixError)):
		out.Verdict = VerdictError
	case bytes.HasSuffix(raw, []byte(suffixFound)):
		out.Verdict = VerdictInfected
	default:
		out.Verdict = VerdictUnknown
	}
	return out
}

func trimAtNUL(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
