package ewelink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const oauthTokenPath = "/v2/user/oauth/token"

// exchangeRequest is the token endpoint payload. Field order matters:
// the marshaled bytes are signed as-is by the body strategy, so the
// struct is marshaled exactly once per acquisition.
type exchangeRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
	Code         string `json:"code,omitempty"`
	RedirectURL  string `json:"redirectUrl,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// tokenData is the success payload of the token endpoint.
type tokenData struct {
	AccessToken   string `json:"accessToken"`
	RefreshToken  string `json:"refreshToken"`
	AtExpiredTime int64  `json:"atExpiredTime"` // milliseconds, 0 when absent
}

// Exchanger drives the authorization-code exchange against the
// provider's regional clusters, trying each signature strategy in
// order until one is accepted. The authorization code itself arrives
// out-of-band (redirect capture, console copy-paste) - the exchanger
// never owns that flow.
type Exchanger struct {
	identity   AppIdentity
	resolver   *Resolver
	storage    TokenStorage
	httpClient *http.Client
	strategies []signStrategy
}

// NewExchanger creates an exchanger bound to an app identity.
func NewExchanger(identity AppIdentity, resolver *Resolver, storage TokenStorage) *Exchanger {
	return &Exchanger{
		identity: identity,
		resolver: resolver,
		storage:  storage,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		strategies: exchangeStrategies,
	}
}

// ExchangeCode exchanges an authorization code for a token set. Each
// signature strategy is tried against each candidate region, in order.
// A "sign verification failed" response advances to the next
// combination; any other provider error is terminal for the code and
// aborts the remaining combinations, since the code is single-use and
// must not be burned against further regions. On success the token set
// is persisted and the issuing region is remembered by the resolver.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, redirectURL string) (*TokenSet, error) {
	payload := exchangeRequest{
		ClientID:     e.identity.AppID,
		ClientSecret: e.identity.AppSecret,
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURL:  redirectURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal exchange request: %w", err)
	}

	var attempts []Attempt
	for _, strategy := range e.strategies {
		for _, region := range e.resolver.Regions() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			baseURL, err := e.resolver.BaseURL(region)
			if err != nil {
				attempts = append(attempts, Attempt{Region: region, Strategy: strategy.name, Err: err})
				continue
			}

			tokens, err := e.attempt(ctx, baseURL, strategy, body)
			if err == nil {
				tokens.Region = region
				if err := e.persist(ctx, tokens); err != nil {
					return nil, err
				}
				e.resolver.Remember(region)
				return tokens, nil
			}

			attempts = append(attempts, Attempt{Region: region, Strategy: strategy.name, Err: err})

			if errors.Is(err, ErrCodeExhausted) {
				return nil, &AcquisitionError{Attempts: attempts}
			}
		}
	}

	return nil, &AcquisitionError{Attempts: attempts}
}

// Refresh exchanges the stored refresh token for a fresh token set.
// Tokens are region-pinned, so only the issuing region is contacted.
func (e *Exchanger) Refresh(ctx context.Context) (*TokenSet, error) {
	current, err := e.storage.GetTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens from storage: %w", err)
	}
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}

	payload := exchangeRequest{
		ClientID:     e.identity.AppID,
		ClientSecret: e.identity.AppSecret,
		GrantType:    "refresh_token",
		RefreshToken: current.RefreshToken,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	baseURL, err := e.resolver.BaseURL(current.Region)
	if err != nil {
		return nil, err
	}

	var attempts []Attempt
	for _, strategy := range e.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tokens, err := e.attempt(ctx, baseURL, strategy, body)
		if err == nil {
			tokens.Region = current.Region
			if tokens.RefreshToken == "" {
				tokens.RefreshToken = current.RefreshToken
			}
			if err := e.persist(ctx, tokens); err != nil {
				return nil, err
			}
			return tokens, nil
		}

		attempts = append(attempts, Attempt{Region: current.Region, Strategy: strategy.name, Err: err})

		if errors.Is(err, ErrCodeExhausted) {
			break
		}
	}

	return nil, &AcquisitionError{Attempts: attempts}
}

// attempt performs a single POST to the token endpoint with one
// signature strategy and classifies the outcome.
func (e *Exchanger) attempt(ctx context.Context, baseURL string, strategy signStrategy, body []byte) (*TokenSet, error) {
	timestamp := time.Now().UnixMilli()
	nonce := newNonce()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+oauthTokenPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange request: %w", err)
	}
	req.Header = strategy.headers(e.identity, body, timestamp, nonce)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("malformed exchange response: %w", err)
	}

	if env.Error != 0 {
		if env.isSignatureRejection() {
			return nil, fmt.Errorf("%w: %s", ErrSignatureRejected, env.Msg)
		}
		// Any non-signature rejection is terminal for this code.
		return nil, fmt.Errorf("%w: provider error %d: %s", ErrCodeExhausted, env.Error, env.Msg)
	}

	var data tokenData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("malformed token payload: %w", err)
	}
	if data.AccessToken == "" {
		return nil, fmt.Errorf("provider reported success but returned no access token")
	}

	now := time.Now()
	tokens := &TokenSet{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		ObtainedAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if data.AtExpiredTime > 0 {
		expiry := time.UnixMilli(data.AtExpiredTime)
		tokens.ExpiresAt = &expiry
	}

	return tokens, nil
}

// persist writes the token set through the credential store, which
// serializes writers.
func (e *Exchanger) persist(ctx context.Context, tokens *TokenSet) error {
	if err := e.storage.SaveTokens(ctx, tokens); err != nil {
		return fmt.Errorf("failed to save tokens to storage: %w", err)
	}
	return nil
}

// newNonce generates the 8-character alphanumeric nonce the provider
// expects in X-CK-Nonce.
func newNonce() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
