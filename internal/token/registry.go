package token

import (
	"fmt"
	"os"
	"sort"
	"strings"

	xerrors "github.com/atomic-235/dex/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Token 描述注册表中的一个 ERC-20 代币。地址比较一律使用小写形式。
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Registry 保存静态的代币元数据，按符号（大小写不敏感）索引。
type Registry struct {
	bySymbol  map[string]Token
	byAddress map[string]Token
}

type registryFile struct {
	Tokens map[string]struct {
		Address  string `yaml:"address"`
		Decimals uint8  `yaml:"decimals"`
	} `yaml:"tokens"`
}

// LoadRegistry 解析 tokens.yaml 并构建注册表。
func LoadRegistry(path string) (*Registry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币注册表失败: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析代币注册表失败: %w", err)
	}
	if len(file.Tokens) == 0 {
		return nil, fmt.Errorf("代币注册表 %s 为空", path)
	}

	reg := &Registry{
		bySymbol:  make(map[string]Token, len(file.Tokens)),
		byAddress: make(map[string]Token, len(file.Tokens)),
	}
	for symbol, entry := range file.Tokens {
		if !common.IsHexAddress(entry.Address) {
			return nil, fmt.Errorf("代币 %s 的地址 %q 非法", symbol, entry.Address)
		}
		tok := Token{
			Symbol:   symbol,
			Address:  common.HexToAddress(entry.Address),
			Decimals: entry.Decimals,
		}
		reg.bySymbol[strings.ToLower(symbol)] = tok
		reg.byAddress[strings.ToLower(tok.Address.Hex())] = tok
	}
	return reg, nil
}

// NewRegistry 由已有的代币列表构建注册表，测试用。
func NewRegistry(tokens ...Token) *Registry {
	reg := &Registry{
		bySymbol:  make(map[string]Token, len(tokens)),
		byAddress: make(map[string]Token, len(tokens)),
	}
	for _, tok := range tokens {
		reg.bySymbol[strings.ToLower(tok.Symbol)] = tok
		reg.byAddress[strings.ToLower(tok.Address.Hex())] = tok
	}
	return reg
}

// BySymbol 按符号查找代币。
func (r *Registry) BySymbol(symbol string) (Token, error) {
	tok, ok := r.bySymbol[strings.ToLower(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("未注册的代币 %s", symbol))
	}
	return tok, nil
}

// Resolve 接受代币符号或十六进制地址，返回对应的代币。
func (r *Registry) Resolve(symbolOrAddress string) (Token, error) {
	value := strings.TrimSpace(symbolOrAddress)
	if common.IsHexAddress(value) {
		addr := common.HexToAddress(value)
		if tok, ok := r.byAddress[strings.ToLower(addr.Hex())]; ok {
			return tok, nil
		}
		return Token{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("未注册的代币地址 %s", addr.Hex()))
	}
	return r.BySymbol(value)
}

// Symbols 返回全部已注册的代币符号。
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.bySymbol))
	for _, tok := range r.bySymbol {
		symbols = append(symbols, tok.Symbol)
	}
	sort.Strings(symbols)
	return symbols
}
