package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetPythABI returns the subset of the IPyth interface the service uses:
// unsafe price reads, update fee quotes, and feed update submission.
func GetPythABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [{"name": "id", "type": "bytes32"}],
			"name": "getPriceUnsafe",
			"outputs": [
				{
					"components": [
						{"name": "price", "type": "int64"},
						{"name": "conf", "type": "uint64"},
						{"name": "expo", "type": "int32"},
						{"name": "publishTime", "type": "uint256"}
					],
					"name": "price",
					"type": "tuple"
				}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "updateData", "type": "bytes[]"}],
			"name": "getUpdateFee",
			"outputs": [{"name": "feeAmount", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "updateData", "type": "bytes[]"}],
			"name": "updatePriceFeeds",
			"outputs": [],
			"stateMutability": "payable",
			"type": "function"
		}
	]`)
}
