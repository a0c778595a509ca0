package terminal

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// minorUnitExp задаёт масштаб минимальных единиц (копейки, центы): ×100
const minorUnitExp = 2

// ErrInvalidAmount возвращается для сумм, которые нельзя передать терминалу
var ErrInvalidAmount = errors.New("invalid amount")

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// ToMinorUnits переводит сумму в основных единицах в целое число минимальных единиц.
// Отклоняются отрицательные суммы, суммы с более чем двумя знаками после
// запятой и суммы, не помещающиеся в int64.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}
	scaled := amount.Shift(minorUnitExp)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, amount, minorUnitExp)
	}
	if scaled.GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, amount)
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits переводит минимальные единицы обратно в основные
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExp)
}

// formatPlain форматирует сумму так, как её ожидает legacy-протокол:
// целые суммы без дробной части ("1", "10"), остальные с двумя знаками ("25.50").
func formatPlain(amount decimal.Decimal) string {
	if amount.IsInteger() {
		return amount.StringFixed(0)
	}
	return amount.StringFixed(minorUnitExp)
}
