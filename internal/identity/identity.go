// Package identity содержит вычисление псевдонимного идентификатора по номеру телефона.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash возвращает hex-представление SHA-256 от номера телефона.
// Сырой номер нигде не сохраняется, голоса помечаются только дайджестом.
// Для пустого входа возвращается пустая строка.
func Hash(phone string) string {
	if phone == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}
