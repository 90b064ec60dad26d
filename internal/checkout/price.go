package checkout

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	nbsp          = "\u00a0"
	defaultSymbol = "₽"
)

// PriceFormatter печатает цены в формате витрины: "1 500 ₽".
// Exponent — число знаков минорных единиц в хранимой цене (0 для целых рублей).
type PriceFormatter struct {
	Exponent int32
	Symbol   string
}

// Format форматирует сумму. Дробная часть печатается только если она ненулевая.
func (f PriceFormatter) Format(amount int64) string {
	symbol := f.Symbol
	if symbol == "" {
		symbol = defaultSymbol
	}

	value := decimal.New(amount, -f.Exponent)
	places := int32(0)
	if !value.Equal(value.Truncate(0)) {
		places = f.Exponent
	}

	raw := value.StringFixed(places)
	sign := ""
	if strings.HasPrefix(raw, "-") {
		sign, raw = "-", raw[1:]
	}
	integer, fraction, _ := strings.Cut(raw, ".")

	out := sign + groupThousands(integer)
	if fraction != "" {
		out += "," + fraction
	}
	return out + nbsp + symbol
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(nbsp)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
