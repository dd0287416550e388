package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shaiso/Courier/internal/config"
	"github.com/shaiso/Courier/internal/domain"
)

// AuthClient выпускает токены по client credentials flow.
// Реализует Issuer.
type AuthClient struct {
	apis       map[string]config.APIConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewAuthClient создаёт клиент провайдеров аутентификации.
func NewAuthClient(apis map[string]config.APIConfig) *AuthClient {
	return &AuthClient{
		apis: apis,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// tokenResponse — ответ эндпоинта выдачи токенов.
// Провайдеры отвечают по-разному: одни присылают expires_in (секунды),
// другие expires_at (RFC3339), третьи — ничего, и срок извлекается
// из exp-клейма самого JWT.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiresAt   string `json:"expires_at"`
}

// Issue запрашивает новый токен у провайдера API.
func (a *AuthClient) Issue(ctx context.Context, apiName, accountID string) (*domain.Credential, error) {
	cfg, ok := a.apis[apiName]
	if !ok {
		return nil, fmt.Errorf("unknown api %q", apiName)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", accountID)
	form.Set("client_secret", cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}

	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access_token")
	}

	issuedAt := a.now()
	expiresAt, err := resolveExpiry(&tr, issuedAt)
	if err != nil {
		return nil, err
	}

	return &domain.Credential{
		APIName:   apiName,
		AccountID: accountID,
		Token:     tr.AccessToken,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// resolveExpiry определяет срок действия токена.
// Приоритет: expires_in → expires_at → exp-клейм JWT.
func resolveExpiry(tr *tokenResponse, issuedAt time.Time) (time.Time, error) {
	if tr.ExpiresIn > 0 {
		return issuedAt.Add(time.Duration(tr.ExpiresIn) * time.Second), nil
	}

	if tr.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, tr.ExpiresAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse expires_at %q: %w", tr.ExpiresAt, err)
		}
		return t, nil
	}

	// Срок не указан явно — пробуем извлечь exp из самого JWT.
	// Подпись не проверяем: токен нужен нам не для доверия, а для передачи upstream.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time, nil
		}
	}

	return time.Time{}, fmt.Errorf("token response carries no expiry and token is not a JWT with exp claim")
}

// truncate обрезает строку до maxLen символов.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
