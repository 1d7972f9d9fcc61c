package ledger

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	methodRecordUsage = "recordUsage"
	methodLastSeenAt  = "lastSeenAt"
)

// registryABIJSON mirrors the UsageRegistry contract interface. The
// contract keeps a per-key monotonic lastSeenAt watermark and emits one
// UsageRecorded event per accepted submission.
const registryABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "submitter", "type": "address"},
			{"indexed": true, "internalType": "bytes32", "name": "apiKeyHash", "type": "bytes32"},
			{"indexed": true, "internalType": "uint256", "name": "timestamp", "type": "uint256"},
			{"indexed": false, "internalType": "bytes32", "name": "requestHash", "type": "bytes32"},
			{"indexed": false, "internalType": "string", "name": "tag", "type": "string"}
		],
		"name": "UsageRecorded",
		"type": "event"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "apiKeyHash", "type": "bytes32"},
			{"internalType": "uint256", "name": "timestamp", "type": "uint256"},
			{"internalType": "bytes32", "name": "requestHash", "type": "bytes32"},
			{"internalType": "string", "name": "tag", "type": "string"}
		],
		"name": "recordUsage",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "apiKeyHash", "type": "bytes32"}
		],
		"name": "lastSeenAt",
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	registryABIOnce   sync.Once
	registryABIParsed abi.ABI
	registryABIErr    error
)

// registryABI parses the contract ABI once and caches the result
func registryABI() (abi.ABI, error) {
	registryABIOnce.Do(func() {
		registryABIParsed, registryABIErr = abi.JSON(strings.NewReader(registryABIJSON))
	})
	return registryABIParsed, registryABIErr
}
