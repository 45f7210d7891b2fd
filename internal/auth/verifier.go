// Пакет auth отвечает за сопоставление bearer-токена владельцу заказов.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTokenUnknown возвращается для токена, не входящего в конфигурацию.
var ErrTokenUnknown = errors.New("auth: unknown token")

// Verifier сопоставляет токен запроса идентификатору владельца.
type Verifier interface {
	Verify(token string) (ownerID string, err error)
}

// StaticVerifier держит фиксированную карту токен -> владелец,
// загружаемую из конфигурации при старте.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier создаёт verifier из готовой карты.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	copied := make(map[string]string, len(tokens))
	for token, owner := range tokens {
		copied[token] = owner
	}
	return &StaticVerifier{tokens: copied}
}

// ParseTokenMap разбирает строку конфигурации вида
// "token1:user1,token2:user2" в карту токенов.
func ParseTokenMap(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		token, owner, found := strings.Cut(pair, ":")
		token = strings.TrimSpace(token)
		owner = strings.TrimSpace(owner)
		if !found || token == "" || owner == "" {
			return nil, fmt.Errorf("invalid token mapping %q, want token:owner", pair)
		}
		if _, exists := tokens[token]; exists {
			return nil, fmt.Errorf("duplicate token %q in mapping", token)
		}
		tokens[token] = owner
	}
	return tokens, nil
}

// Verify возвращает владельца токена либо ErrTokenUnknown.
func (v *StaticVerifier) Verify(token string) (string, error) {
	owner, ok := v.tokens[token]
	if !ok {
		return "", ErrTokenUnknown
	}
	return owner, nil
}

var _ Verifier = (*StaticVerifier)(nil)
