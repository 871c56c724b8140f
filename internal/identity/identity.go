// Package identity derives the anonymous per-day poster label shown next to
// each post. The label is a soft fingerprint, not a credential.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UnknownAddress stands in for a missing requester address.
const UnknownAddress = "unknown"

// LabelLength is the fixed length of every derived label.
const LabelLength = 8

// 36^8, the number of distinct labels.
const labelSpace = 2821109907456

// Derive returns the label for address on the UTC calendar day of day.
// The result is LabelLength characters of 0-9A-Z.
func Derive(address string, day time.Time) string {
	address = strings.TrimSpace(address)
	if address == "" {
		address = UnknownAddress
	}
	sum := sha256.Sum256([]byte(address + "-" + day.UTC().Format(time.DateOnly)))
	value := binary.BigEndian.Uint64(sum[:8]) % labelSpace

	label := strings.ToUpper(strconv.FormatUint(value, 36))
	if pad := LabelLength - len(label); pad > 0 {
		label = strings.Repeat("0", pad) + label
	}
	return label
}

// ClientAddress picks the requester address: the first X-Forwarded-For hop
// when present, else the host part of RemoteAddr.
func ClientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return UnknownAddress
	}
	return host
}
