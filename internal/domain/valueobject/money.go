package valueobject

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

// Money хранит сумму в минимальных единицах валюты (копейки/центы).
// Дробные значения в расчётах не используются.
type Money int64

func NewMoney(minor int64) (Money, error) {
	if minor < 0 {
		return 0, apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	}
	return Money(minor), nil
}

// ParseMoney разбирает строку вида "500", "500.5" или "500.50".
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, apperror.New(apperror.ErrCodeValidation, "сумма не указана")
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, apperror.New(apperror.ErrCodeValidation, "сумма указывается без знака")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && (len(frac) == 0 || len(frac) > 2 || strings.Trim(frac, "0123456789") != "") {
		return 0, apperror.New(apperror.ErrCodeValidation, "сумма допускает не более двух знаков после точки")
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректная сумма")
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректная сумма")
	}
	if units > (math.MaxInt64-cents)/100 {
		return 0, apperror.New(apperror.ErrCodeValidation, "сумма слишком велика")
	}

	return NewMoney(units*100 + cents)
}

func (m Money) Minor() int64 {
	return int64(m)
}

func (m Money) IsPositive() bool {
	return m > 0
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
