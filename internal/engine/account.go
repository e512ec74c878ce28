package engine

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer 抽象了交易签名能力，便于在测试中替换为假实现。
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Account 持有本进程唯一账户的签名私钥。nonce 计数由 NonceAllocator
// 独占维护，Account 本身不暴露任何 nonce 状态。
type Account struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewAccount 从十六进制私钥构造账户，允许携带 0x 前缀。
func NewAccount(hexKey string) (*Account, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("私钥不能为空")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address 返回账户地址。
func (a *Account) Address() common.Address {
	return a.address
}

// SignTx 使用账户私钥对交易进行 EIP-155 签名。
func (a *Account) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if chainID == nil {
		return nil, errors.New("缺少链 ID，无法签名")
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), a.key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	return signed, nil
}

var _ Signer = (*Account)(nil)
