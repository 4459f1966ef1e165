// Пакет keycodec - одноразовые ключи выдачи: генерация, хэширование
// и извлечение ключа из «зашумлённого» пользовательского текста.
//
// Формат ключа: DDDDDD-V_HEX64
//   - DDDDDD - шесть десятичных цифр (100000..999999)
//   - V      - «вариант» 1..3, только для визуальной группировки
//   - HEX64  - 32 байта из crypto/rand в hex (256 бит энтропии)
//
// В каталоге хранится только SHA-256 ключа; сам ключ показывается
// загрузившему один раз.
package keycodec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var (
	// strictKeyPattern - точная форма сгенерированного ключа.
	strictKeyPattern = regexp.MustCompile(`\d{6}-[0-9]+_[A-Za-z0-9]{20,}`)
	// looseKeyPattern - запасной вариант: любая длинная «ключеподобная» строка.
	looseKeyPattern = regexp.MustCompile(`[A-Za-z0-9_-]{20,}`)

	lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// Generate создаёт новый одноразовый ключ.
// Каждый вызов независим; все части берутся из crypto/rand.
func Generate() (string, error) {
	prefix, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("ошибка генерации префикса ключа: %w", err)
	}

	variant, err := rand.Int(rand.Reader, big.NewInt(3))
	if err != nil {
		return "", fmt.Errorf("ошибка генерации варианта ключа: %w", err)
	}

	suffix := make([]byte, 32)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("ошибка генерации суффикса ключа: %w", err)
	}

	return fmt.Sprintf("%06d-%d_%s",
		prefix.Int64()+100000,
		variant.Int64()+1,
		hex.EncodeToString(suffix),
	), nil
}

// Hash возвращает SHA-256 точной байтовой последовательности ключа (hex).
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ContentHash возвращает SHA-256 содержимого файла (hex) для дедупликации.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Normalize извлекает ключ из произвольного текста: пересланного сообщения,
// текста команды, строки с переносами.
// Сначала ищется точная форма ключа, затем любая строка из 20+ символов
// [A-Za-z0-9_-]. Возвращает самое левое совпадение.
func Normalize(text string) (string, bool) {
	text = strings.TrimSpace(lineBreaks.Replace(text))
	if text == "" {
		return "", false
	}

	if m := strictKeyPattern.FindString(text); m != "" {
		return m, true
	}
	if m := looseKeyPattern.FindString(text); m != "" {
		return m, true
	}
	return "", false
}
