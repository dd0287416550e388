package domain

import "time"

// Credential — короткоживущий bearer-токен для пары (API, аккаунт).
//
// Запись не мутируется: при обновлении создаётся новая, при инвалидации
// удаляется из обоих ярусов кеша.
type Credential struct {
	// APIName — имя внешнего API.
	APIName string `json:"api_name"`

	// AccountID — идентификатор аккаунта во внешнем API.
	AccountID string `json:"account_id"`

	// Token — bearer-токен.
	Token string `json:"token"`

	// IssuedAt — время выдачи.
	IssuedAt time.Time `json:"issued_at"`

	// ExpiresAt — время истечения, заявленное выдавшей стороной.
	ExpiresAt time.Time `json:"expires_at"`
}

// Usable возвращает true, если токен ещё можно использовать
// с учётом запаса безопасности margin.
//
// Инвариант кеша: Credential никогда не выдаётся наружу,
// если now >= expires_at - margin.
func (c *Credential) Usable(now time.Time, margin time.Duration) bool {
	return now.Before(c.ExpiresAt.Add(-margin))
}

// TTL возвращает остаток жизни токена с учётом margin.
// Неположительный результат означает «не кешировать и не выдавать».
func (c *Credential) TTL(now time.Time, margin time.Duration) time.Duration {
	return c.ExpiresAt.Add(-margin).Sub(now)
}
