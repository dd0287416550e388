package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/telemetry"
)

// Issuer выпускает новый токен у провайдера аутентификации.
type Issuer interface {
	Issue(ctx context.Context, apiName, accountID string) (*domain.Credential, error)
}

// Cache — двухуровневый кэш токенов: локальный (in-process) и общий (Redis).
//
// Порядок чтения: локальный кэш → Redis → выпуск нового токена.
// Выпуск дедуплицируется через singleflight: при одновременных промахах
// по одному ключу к провайдеру уходит один запрос, остальные ждут результат.
//
// Redis опционален: при nil клиенте или ошибках Redis кэш деградирует
// до локального уровня с warning в логе, запросы не падают.
type Cache struct {
	issuer Issuer
	rdb    *redis.Client
	logger *slog.Logger

	// margin — запас до истечения токена: токен считается негодным
	// за margin до фактического expires_at.
	margin time.Duration

	// now — источник времени, подменяется в тестах.
	now func() time.Time

	mu    sync.RWMutex
	local map[string]*domain.Credential

	group singleflight.Group
}

// CacheConfig — конфигурация кэша токенов.
type CacheConfig struct {
	// Issuer — клиент провайдера аутентификации.
	Issuer Issuer

	// Redis — общий кэш между инстансами. nil — только локальный кэш.
	Redis *redis.Client

	// SafetyMargin — запас до истечения токена.
	SafetyMargin time.Duration

	// Logger — логгер.
	Logger *slog.Logger

	// Now — источник времени. nil — time.Now.
	Now func() time.Time
}

// NewCache создаёт кэш токенов.
func NewCache(cfg CacheConfig) *Cache {
	margin := cfg.SafetyMargin
	if margin <= 0 {
		margin = 60 * time.Second
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		issuer: cfg.Issuer,
		rdb:    cfg.Redis,
		logger: logger,
		margin: margin,
		now:    now,
		local:  make(map[string]*domain.Credential),
	}
}

// cacheKey строит ключ кэша для пары (API, аккаунт).
func cacheKey(apiName, accountID string) string {
	return "token:" + apiName + ":" + accountID
}

// Get возвращает годный токен для пары (API, аккаунт).
// Токен, до истечения которого осталось меньше safety margin,
// считается промахом и заменяется новым.
func (c *Cache) Get(ctx context.Context, apiName, accountID string) (*domain.Credential, error) {
	key := cacheKey(apiName, accountID)
	now := c.now()

	c.mu.RLock()
	cred, ok := c.local[key]
	c.mu.RUnlock()

	if ok && cred.Usable(now, c.margin) {
		return cred, nil
	}

	if cred := c.getShared(ctx, key, now); cred != nil {
		c.mu.Lock()
		c.local[key] = cred
		c.mu.Unlock()
		return cred, nil
	}

	// Промах на обоих уровнях — выпускаем новый токен.
	// singleflight гарантирует один запрос к провайдеру на ключ.
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Пока мы ждали очередь, токен мог появиться.
		c.mu.RLock()
		cred, ok := c.local[key]
		c.mu.RUnlock()
		if ok && cred.Usable(c.now(), c.margin) {
			return cred, nil
		}

		return c.issue(ctx, key, apiName, accountID)
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Credential), nil
}

// issue выпускает новый токен и кладёт его на оба уровня кэша.
func (c *Cache) issue(ctx context.Context, key, apiName, accountID string) (*domain.Credential, error) {
	cred, err := c.issuer.Issue(ctx, apiName, accountID)
	if err != nil {
		telemetry.RecordAuth(apiName, "error")
		return nil, fmt.Errorf("issue token for %s: %w", apiName, err)
	}

	now := c.now()
	if !cred.Usable(now, c.margin) {
		telemetry.RecordAuth(apiName, "error")
		return nil, fmt.Errorf("issued token for %s expires within safety margin (ttl=%s, margin=%s)",
			apiName, cred.ExpiresAt.Sub(now), c.margin)
	}

	telemetry.RecordAuth(apiName, "issued")

	c.mu.Lock()
	c.local[key] = cred
	c.mu.Unlock()

	c.putShared(ctx, key, cred)

	c.logger.Info("token issued",
		"api_name", apiName,
		"account_id", accountID,
		"expires_at", cred.ExpiresAt,
	)

	return cred, nil
}

// getShared читает токен из Redis. Возвращает nil при промахе или ошибке.
func (c *Cache) getShared(ctx context.Context, key string, now time.Time) *domain.Credential {
	if c.rdb == nil {
		return nil
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("shared cache read failed, falling back to local", "key", key, "error", err)
		}
		return nil
	}

	var cred domain.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		c.logger.Warn("shared cache entry corrupted", "key", key, "error", err)
		return nil
	}

	if !cred.Usable(now, c.margin) {
		return nil
	}

	return &cred
}

// putShared кладёт токен в Redis с TTL до истечения минус margin.
func (c *Cache) putShared(ctx context.Context, key string, cred *domain.Credential) {
	if c.rdb == nil {
		return
	}

	data, err := json.Marshal(cred)
	if err != nil {
		c.logger.Warn("failed to marshal credential", "key", key, "error", err)
		return
	}

	ttl := cred.TTL(c.now(), c.margin)
	if ttl <= 0 {
		return
	}

	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("shared cache write failed", "key", key, "error", err)
	}
}

// Invalidate удаляет токен с обоих уровней кэша.
// Вызывается при отказе upstream принять токен (401).
func (c *Cache) Invalidate(ctx context.Context, apiName, accountID string) {
	key := cacheKey(apiName, accountID)

	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("shared cache invalidate failed", "key", key, "error", err)
		}
	}

	telemetry.RecordAuth(apiName, "invalidated")

	c.logger.Info("token invalidated", "api_name", apiName, "account_id", accountID)
}
