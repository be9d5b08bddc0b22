// Package validation содержит функции валидации входных данных.
package validation

import "regexp"

// Номер мобильного телефона Ганы: +233 или 0, затем девять цифр,
// первая из которых не 0 и не 1.
var phoneRe = regexp.MustCompile(`^(\+233|0)[2-9]\d{8}$`)

// IsValidPhone проверяет корректность ганского номера мобильного телефона.
func IsValidPhone(phone string) bool {
	return phoneRe.MatchString(phone)
}
