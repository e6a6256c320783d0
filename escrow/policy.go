package escrow

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AuthorizationPolicy decides which addresses hold the arbitrator role. The
// role gate never compares admin addresses itself.
type AuthorizationPolicy interface {
	IsAdmin(addr common.Address) bool
}

// SingleAdmin grants the arbitrator role to exactly one address.
type SingleAdmin common.Address

// NewSingleAdmin parses the configured admin address. Comparison is
// case-insensitive on the textual form.
func NewSingleAdmin(addr string) (SingleAdmin, error) {
	parsed, err := ParseAddress(addr)
	if err != nil {
		return SingleAdmin{}, fmt.Errorf("admin address: %w", err)
	}
	if parsed == (common.Address{}) {
		return SingleAdmin{}, fmt.Errorf("admin address must not be zero")
	}
	return SingleAdmin(parsed), nil
}

// IsAdmin implements AuthorizationPolicy.
func (s SingleAdmin) IsAdmin(addr common.Address) bool {
	return addr != (common.Address{}) && addr == common.Address(s)
}

// AdminList grants the arbitrator role to a fixed set of addresses.
type AdminList map[common.Address]struct{}

// NewAdminList parses every supplied address, rejecting duplicates and zero
// entries.
func NewAdminList(addrs ...string) (AdminList, error) {
	list := make(AdminList, len(addrs))
	for _, raw := range addrs {
		parsed, err := ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("admin address %q: %w", raw, err)
		}
		if parsed == (common.Address{}) {
			return nil, fmt.Errorf("admin address must not be zero")
		}
		if _, dup := list[parsed]; dup {
			return nil, fmt.Errorf("duplicate admin address %s", parsed.Hex())
		}
		list[parsed] = struct{}{}
	}
	return list, nil
}

// IsAdmin implements AuthorizationPolicy.
func (l AdminList) IsAdmin(addr common.Address) bool {
	_, ok := l[addr]
	return ok
}

// ParseAddress decodes a 0x-prefixed hex account address in any letter case.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func isAdmin(policy AuthorizationPolicy, addr common.Address) bool {
	if policy == nil || addr == (common.Address{}) {
		return false
	}
	return policy.IsAdmin(addr)
}
