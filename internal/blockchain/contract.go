package blockchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// RewardsContractABI covers the three calls settlement needs from the
// tournament contract. Balance is read with eth_getBalance.
const RewardsContractABI = `[
	{
		"type": "function",
		"name": "getLeaderboard",
		"stateMutability": "view",
		"inputs": [
			{"name": "tournamentId", "type": "uint256"},
			{"name": "round", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "string"}]
	},
	{
		"type": "function",
		"name": "payoutReward",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "winner", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "fundContract",
		"stateMutability": "payable",
		"inputs": [],
		"outputs": []
	}
]`

const (
	methodGetLeaderboard = "getLeaderboard"
	methodPayoutReward   = "payoutReward"
	methodFundContract   = "fundContract"
)

var rewardsABI = mustParseABI(RewardsContractABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
