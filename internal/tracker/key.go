package tracker

import (
	"fmt"
	"strconv"
	"strings"
)

// Option types.
const (
	TypeCall = "call"
	TypePut  = "put"
)

// ContractKey identifies a tracked contract by option type and price in
// cents. It renders as "call_08".
type ContractKey struct {
	Type  string
	Cents int
}

func (k ContractKey) String() string {
	return fmt.Sprintf("%s_%02d", k.Type, k.Cents)
}

// ParseContractKey parses "put_12" style keys.
func ParseContractKey(s string) (ContractKey, error) {
	typ, cents, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "_")
	if !ok {
		return ContractKey{}, fmt.Errorf("tracker: malformed contract key %q", s)
	}
	if !ValidType(typ) {
		return ContractKey{}, fmt.Errorf("tracker: unknown option type %q in key %q", typ, s)
	}
	n, err := strconv.Atoi(cents)
	if err != nil || n < 1 || n > 99 {
		return ContractKey{}, fmt.Errorf("tracker: invalid cents in key %q", s)
	}
	return ContractKey{Type: typ, Cents: n}, nil
}

// ValidType reports whether typ is call or put.
func ValidType(typ string) bool {
	return typ == TypeCall || typ == TypePut
}
