package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/errors"
)

// TokenDecimals is the fixed-point precision of the reward token. It must
// match the deployed contract's decimals() exactly.
const TokenDecimals = 18

// ChecksumAddress trims and validates a wallet address and returns its EIP-55
// checksummed form. Two addresses differing only by letter case normalize to
// the same result.
func ChecksumAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if !common.IsHexAddress(trimmed) {
		return "", errors.NewInvalidAddressError(address)
	}
	return common.HexToAddress(trimmed).Hex(), nil
}

// IsValidAddress reports whether the address parses as a 20-byte hex address.
func IsValidAddress(address string) bool {
	return common.IsHexAddress(strings.TrimSpace(address))
}

// ToWei converts a decimal token amount to the token's smallest unit by
// truncation. Truncation, not rounding: 0.1234567890123456789 becomes
// 123456789012345678 wei.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(TokenDecimals).Truncate(0).BigInt()
}

// FromWei converts a smallest-unit integer back to a decimal token amount.
func FromWei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -TokenDecimals)
}

// contractArtifact is the on-disk shape of the compiled contract JSON. Only
// the abi field is consumed.
type contractArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadContractABI reads a compiled contract artifact and parses its ABI.
// The artifact must describe at least batchMint(address[],uint256[]),
// transfer(address,uint256) and balanceOf(address).
func LoadContractABI(path string) (*abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewContractLoadError("artifact not readable", err)
	}

	var artifact contractArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, errors.NewContractLoadError("artifact is not valid JSON", err)
	}
	if len(artifact.ABI) == 0 {
		return nil, errors.NewContractLoadError("artifact has no abi field", nil)
	}

	parsed, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return nil, errors.NewContractLoadError("abi does not parse", err)
	}

	for _, method := range []string{"batchMint", "transfer", "balanceOf"} {
		if _, ok := parsed.Methods[method]; !ok {
			return nil, errors.NewContractLoadError(fmt.Sprintf("abi is missing %s", method), nil)
		}
	}

	return &parsed, nil
}
