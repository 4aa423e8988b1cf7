package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr is the address of a deployed component (account manager, proxy,
// module instance, factory or admin).
type Addr string

// Domain prefix for derived addresses.
// Version suffix enables future algorithm migration.
const DomainAddr = "modacct/addr/v1"

// maxAddrLen bounds stored addresses.
const maxAddrLen = 128

// ValidateAddr checks the address format: "<prefix>1<data>" where prefix is
// lowercase letters and data is at least six lowercase alphanumerics.
func ValidateAddr(a Addr) error {
	s := string(a)
	if s == "" {
		return NewError(ErrCodeInvalidAddress, "address must not be empty")
	}
	if len(s) > maxAddrLen {
		return NewError(ErrCodeInvalidAddress, fmt.Sprintf("address %q exceeds %d characters", s, maxAddrLen))
	}
	sep := strings.IndexByte(s, '1')
	if sep < 1 || len(s)-sep-1 < 6 {
		return NewError(ErrCodeInvalidAddress, fmt.Sprintf("address %q is not of the form <prefix>1<data>", s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		lower := c >= 'a' && c <= 'z'
		digit := c >= '0' && c <= '9'
		if i < sep && !lower || i > sep && !lower && !digit {
			return NewError(ErrCodeInvalidAddress, fmt.Sprintf("address %q contains invalid character %q", s, c))
		}
	}
	return nil
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// DeriveAddr deterministically derives an address from a label and a logical
// sequence number. The same (prefix, label, seq) always yields the same address.
func DeriveAddr(prefix, label string, seq int64) Addr {
	buf := make([]byte, 0, len(label)+9)
	buf = append(buf, label...)
	buf = append(buf, 0x00)
	buf = binary.BigEndian.AppendUint64(buf, uint64(seq))
	sum := hashWithDomain(DomainAddr, buf)
	return Addr(prefix + "1" + hex.EncodeToString(sum[:20]))
}
