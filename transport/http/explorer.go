package http

import (
	"fmt"
	"strings"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
)

// explorerURL returns a best-effort block explorer link for a transaction,
// or "" when the chain/network combination is not recognized. No pack
// repository anchors to a block-explorer URL convention (see DESIGN.md
// "Bitcoin grounding gap"); the formats below are the canonical public
// explorers for each network.
func explorerURL(chain model.Chain, network, txHash string) string {
	if txHash == "" {
		return ""
	}
	switch chain {
	case model.ChainBitcoin:
		if strings.EqualFold(network, "mainnet") {
			return fmt.Sprintf("https://mempool.space/tx/%s", txHash)
		}
		return fmt.Sprintf("https://mempool.space/%s/tx/%s", strings.ToLower(network), txHash)
	case model.ChainEthereum:
		if strings.EqualFold(network, "mainnet") {
			return fmt.Sprintf("https://etherscan.io/tx/%s", txHash)
		}
		return fmt.Sprintf("https://%s.etherscan.io/tx/%s", strings.ToLower(network), txHash)
	default:
		return ""
	}
}
