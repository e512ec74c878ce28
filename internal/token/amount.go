package token

import (
	"fmt"
	"math/big"
	"strings"

	xerrors "github.com/atomic-235/dex/internal/errors"
)

// ToBaseUnits 将十进制数量字符串（如 "3.0"）换算为代币的最小单位整数。
// 超出代币精度的小数位视为非法输入而不是静默截断。
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	value := strings.TrimSpace(amount)
	if value == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数量不能为空")
	}

	rat, ok := new(big.Rat).SetString(value)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的数量 %q", amount))
	}
	if rat.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数量必须为正数")
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	if !rat.IsInt() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("数量 %s 超出 %d 位小数精度", amount, decimals))
	}
	return new(big.Int).Set(rat.Num()), nil
}

// FromBaseUnits 将最小单位整数换算为十进制数量字符串。
func FromBaseUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(raw, scale)
	text := rat.FloatString(int(decimals))
	if !strings.Contains(text, ".") {
		return text
	}
	text = strings.TrimRight(text, "0")
	return strings.TrimSuffix(text, ".")
}
