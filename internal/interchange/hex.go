package interchange

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// encodeHex renders b as a lowercase 0x-prefixed hex string, per spec §4.4.
func encodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// decodeHex parses a 0x-prefixed hex string, case-insensitive on read.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedInterchange, "%q is not valid hex: %v", s, err)
	}
	return b, nil
}

// decodeUint64 parses a decimal string as an unsigned 64-bit integer, per
// spec §4.4's "All numeric fields are decimal strings".
func decodeUint64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedInterchange, "%q is not a valid unsigned integer: %v", s, err)
	}
	return v, nil
}

func encodeUint64(v uint64) string {
	return strconv.FormatUint(v, 10)
}
