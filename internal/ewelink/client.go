package ewelink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const deviceStatusPath = "/v2/device/thing/status"

// SwitchState is the desired on/off state of a device.
type SwitchState string

const (
	SwitchOn  SwitchState = "on"
	SwitchOff SwitchState = "off"
)

// deviceThingType 1 addresses a device by its device id (as opposed to
// a group).
const deviceThingType = 1

// deviceCommand is the device state-change payload.
type deviceCommand struct {
	Type   int          `json:"type"`
	ID     string       `json:"id"`
	Params switchParams `json:"params"`
}

type switchParams struct {
	Switch SwitchState `json:"switch"`
}

// TokenRefresher obtains a fresh token set when the current one has
// expired. Implemented by Exchanger.
type TokenRefresher interface {
	Refresh(ctx context.Context) (*TokenSet, error)
}

// Client issues authenticated device commands against the region the
// current token was issued from. Tokens are region-pinned: the region
// is never re-resolved per command, and a configured region that
// disagrees with the token's region fails closed before any network
// call.
type Client struct {
	identity   AppIdentity
	resolver   *Resolver
	storage    TokenStorage
	refresher  TokenRefresher
	region     Region // optional configured pin, "" follows the token
	httpClient *http.Client
}

// NewClient creates a device command client. refresher may be nil, in
// which case an expired token surfaces as ErrTokenExpired instead of
// being refreshed transparently. region may be empty to accept
// whichever region the token was issued from.
func NewClient(identity AppIdentity, resolver *Resolver, storage TokenStorage, refresher TokenRefresher, region Region) *Client {
	return &Client{
		identity:  identity,
		resolver:  resolver,
		storage:   storage,
		refresher: refresher,
		region:    region,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SetState switches a device on or off. The current token set is read
// from storage on every call so refreshed tokens are picked up. A
// token-expired response triggers a single refresh-and-retry; any
// other provider rejection is surfaced as a DispatchError with the raw
// provider message.
func (c *Client) SetState(ctx context.Context, deviceID string, state SwitchState) error {
	tokens, err := c.currentTokens(ctx)
	if err != nil {
		return err
	}

	if tokens.Expired(time.Now()) {
		if tokens, err = c.refresh(ctx); err != nil {
			return err
		}
	}

	err = c.dispatch(ctx, tokens, deviceID, state)
	if errors.Is(err, ErrTokenExpired) && c.refresher != nil {
		if tokens, err = c.refresh(ctx); err != nil {
			return err
		}
		err = c.dispatch(ctx, tokens, deviceID, state)
	}
	return err
}

// currentTokens loads the token set and enforces the region pin.
func (c *Client) currentTokens(ctx context.Context) (*TokenSet, error) {
	tokens, err := c.storage.GetTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens from storage: %w", err)
	}
	if tokens == nil || tokens.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}
	if c.region != "" && tokens.Region != c.region {
		return nil, fmt.Errorf("%w: token issued by %q, client configured for %q", ErrRegionMismatch, tokens.Region, c.region)
	}
	return tokens, nil
}

func (c *Client) refresh(ctx context.Context) (*TokenSet, error) {
	if c.refresher == nil {
		return nil, ErrTokenExpired
	}
	tokens, err := c.refresher.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return tokens, nil
}

// dispatch performs one command POST against the token's region.
func (c *Client) dispatch(ctx context.Context, tokens *TokenSet, deviceID string, state SwitchState) error {
	baseURL, err := c.resolver.BaseURL(tokens.Region)
	if err != nil {
		return err
	}

	body, err := json.Marshal(deviceCommand{
		Type:   deviceThingType,
		ID:     deviceID,
		Params: switchParams{Switch: state},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal device command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+deviceStatusPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create device request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CK-Appid", c.identity.AppID)
	req.Header.Set("X-CK-Nonce", newNonce())
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("device request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read device response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("device command failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("malformed device response: %w", err)
	}

	if env.Error == 0 {
		return nil
	}
	if env.isTokenRejection() {
		return fmt.Errorf("%w: provider error %d: %s", ErrTokenExpired, env.Error, env.Msg)
	}
	return &DispatchError{Code: env.Error, Msg: env.Msg}
}
