package poslock

import (
	"fmt"
	"strings"
)

// Key builds the canonical lock key for a position.
//
// The token address is lower-cased so that checksummed and plain forms of
// the same EVM address map to the same key. Identical logical positions
// always normalize to the same key string.
func Key(userID string, chainID uint64, tokenAddress string) string {
	return fmt.Sprintf("%s:%d:%s", userID, chainID, strings.ToLower(tokenAddress))
}
