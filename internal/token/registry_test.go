package token

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	xerrors "github.com/atomic-235/dex/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

func testRegistry() *Registry {
	return NewRegistry(
		Token{Symbol: "WETH", Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18},
		Token{Symbol: "USDC", Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Decimals: 6},
	)
}

func TestRegistryResolveBySymbol(t *testing.T) {
	reg := testRegistry()

	for _, input := range []string{"WETH", "weth", " Weth "} {
		tok, err := reg.Resolve(input)
		if err != nil {
			t.Fatalf("按符号 %q 查找失败: %v", input, err)
		}
		if tok.Symbol != "WETH" || tok.Decimals != 18 {
			t.Fatalf("查找结果不符: %+v", tok)
		}
	}
}

func TestRegistryResolveByAddress(t *testing.T) {
	reg := testRegistry()

	tok, err := reg.Resolve("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	if err != nil {
		t.Fatalf("按地址查找失败: %v", err)
	}
	if tok.Symbol != "USDC" {
		t.Fatalf("查找结果为 %s, 期望 USDC", tok.Symbol)
	}
}

func TestRegistryRejectsUnknownToken(t *testing.T) {
	reg := testRegistry()

	if _, err := reg.Resolve("DOGE"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("错误码为 %s, 期望 %s", xerrors.CodeOf(err), xerrors.CodeNotFound)
	}
	if _, err := reg.Resolve("0x0000000000000000000000000000000000000001"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatal("未注册地址应报告未找到")
	}
}

func TestRegistrySymbolsAreSorted(t *testing.T) {
	symbols := testRegistry().Symbols()
	if len(symbols) != 2 || symbols[0] != "USDC" || symbols[1] != "WETH" {
		t.Fatalf("符号列表不符: %v", symbols)
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	content := `tokens:
  WETH:
    address: "0x4200000000000000000000000000000000000006"
    decimals: 18
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时注册表失败: %v", err)
	}

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("加载注册表失败: %v", err)
	}
	tok, err := reg.BySymbol("WETH")
	if err != nil {
		t.Fatalf("查找失败: %v", err)
	}
	if tok.Address != common.HexToAddress("0x4200000000000000000000000000000000000006") {
		t.Fatalf("地址不符: %s", tok.Address.Hex())
	}
}

func TestLoadRegistryRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	content := `tokens:
  BAD:
    address: "not-an-address"
    decimals: 18
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时注册表失败: %v", err)
	}
	if _, err := LoadRegistry(path); err == nil {
		t.Fatal("非法地址应导致加载失败")
	}
}

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"3.0", 18, "3000000000000000000"},
		{"0.5", 6, "500000"},
		{"1", 0, "1"},
		{"1.50", 6, "1500000"},
	}
	for _, tc := range cases {
		got, err := ToBaseUnits(tc.amount, tc.decimals)
		if err != nil {
			t.Fatalf("换算 %s 失败: %v", tc.amount, err)
		}
		want, _ := new(big.Int).SetString(tc.want, 10)
		if got.Cmp(want) != 0 {
			t.Fatalf("换算 %s 得到 %s, 期望 %s", tc.amount, got, tc.want)
		}
	}
}

func TestToBaseUnitsRejectsBadInput(t *testing.T) {
	for _, amount := range []string{"", "abc", "0", "-1", "0.1234567"} {
		if _, err := ToBaseUnits(amount, 6); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("输入 %q 应报告非法参数, 得到 %v", amount, err)
		}
	}
}

func TestFromBaseUnitsTrimsTrailingZeros(t *testing.T) {
	cases := []struct {
		raw      int64
		decimals uint8
		want     string
	}{
		{1_500_000, 6, "1.5"},
		{990_000, 6, "0.99"},
		{1_000_000, 6, "1"},
		{1, 6, "0.000001"},
		{0, 6, "0"},
	}
	for _, tc := range cases {
		if got := FromBaseUnits(big.NewInt(tc.raw), tc.decimals); got != tc.want {
			t.Fatalf("换算 %d 得到 %s, 期望 %s", tc.raw, got, tc.want)
		}
	}
}
