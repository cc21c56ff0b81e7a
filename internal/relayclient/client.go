package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/appresence/appresence/internal/config"
	"github.com/appresence/appresence/internal/models"
)

// Store persists the relay address between reporter sessions.
type Store interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Client is the reporter-side transport to the relay API. Presence
// delivery is best-effort: send and clear failures are logged, never
// returned as fatal.
type Client struct {
	cfg   config.TransportConfig
	store Store
	http  *http.Client
	log   zerolog.Logger

	baseURL     string
	initialized bool

	// Throttle state; single-writer (the poll loop), no locking needed.
	lastPackage string
	lastSentAt  time.Time

	nowFn func() time.Time
}

type updateRequest struct {
	AppName     string `json:"appName"`
	PackageName string `json:"packageName"`
	DisplayName string `json:"displayName"`
	ClientID    string `json:"clientId"`
}

type relayResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type healthResponse struct {
	Status           string `json:"status"`
	DiscordConnected bool   `json:"discordConnected"`
	CurrentClientID  string `json:"currentClientId"`
}

func NewClient(cfg config.TransportConfig, store Store, logger zerolog.Logger) *Client {
	return &Client{
		cfg:   cfg,
		store: store,
		http:  &http.Client{},
		log:   logger.With().Str("component", "relay-client").Logger(),
		nowFn: time.Now,
	}
}

// NormalizeAddress canonicalizes a bare host:port or URL into an
// http:// base URL.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.Index(address, "://"); i >= 0 {
		address = address[i+3:]
	}
	address = strings.TrimRight(address, "/")
	return "http://" + address
}

// Initialize validates and persists the relay address. The address is
// only accepted after one successful health probe.
func (c *Client) Initialize(address string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("relay address cannot be empty")
	}

	baseURL := NormalizeAddress(address)
	c.baseURL = baseURL
	c.initialized = true

	connected, err := c.Probe()
	if err != nil || !connected {
		c.initialized = false
		c.baseURL = ""
		if err == nil {
			err = fmt.Errorf("relay reachable but presence service not connected")
		}
		return errors.Wrapf(err, "relay at %s failed health probe", baseURL)
	}

	if c.store != nil {
		if err := c.store.SetSetting(models.SettingRelayAddress, baseURL); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist relay address")
		}
	}

	c.log.Info().Str("relay", baseURL).Msg("relay initialized")
	return nil
}

// Restore reloads a previously persisted relay address without probing.
func (c *Client) Restore() error {
	if c.store == nil {
		return fmt.Errorf("no store configured")
	}
	address, err := c.store.GetSetting(models.SettingRelayAddress)
	if err != nil {
		return err
	}
	if address == "" {
		return fmt.Errorf("no relay address persisted")
	}
	c.baseURL = address
	c.initialized = true
	return nil
}

// Initialized reports whether the client has a relay address.
func (c *Client) Initialized() bool {
	return c.initialized
}

// Send publishes a presence update. Repeat sends for the same package
// inside the throttle window are skipped; a package switch always goes
// out immediately so clear-then-switch stays low latency.
func (c *Client) Send(appName, pkg, clientID string) error {
	if !c.initialized {
		return nil
	}

	if unknownField(appName) || unknownField(pkg) {
		return c.Clear()
	}

	now := c.nowFn()
	if pkg == c.lastPackage && now.Sub(c.lastSentAt) < c.cfg.ThrottleWindow {
		return nil
	}

	body := updateRequest{
		AppName:     appName,
		PackageName: pkg,
		DisplayName: appName,
		ClientID:    clientID,
	}

	if err := c.post("/update-presence", body, c.cfg.SendTimeout); err != nil {
		c.log.Warn().Err(err).Str("package", pkg).Msg("presence update failed")
		return err
	}

	c.lastPackage = pkg
	c.lastSentAt = now
	c.log.Debug().Str("package", pkg).Str("app", appName).Msg("presence updated")
	return nil
}

// Clear removes the displayed presence and resets throttle state.
func (c *Client) Clear() error {
	if !c.initialized {
		return nil
	}

	if err := c.post("/clear-presence", nil, c.cfg.ClearTimeout); err != nil {
		c.log.Warn().Err(err).Msg("presence clear failed")
		return err
	}

	c.lastPackage = ""
	c.lastSentAt = time.Time{}
	return nil
}

// Probe checks relay reachability and presence-service connectivity.
// Unlike send/clear, probe failures propagate to the caller.
func (c *Client) Probe() (bool, error) {
	if !c.initialized {
		return false, fmt.Errorf("relay client not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to build health request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "health probe failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("health probe returned %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, errors.Wrap(err, "failed to decode health response")
	}

	return health.DiscordConnected, nil
}

func (c *Client) post(path string, body interface{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &payload)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST %s failed", path)
	}
	defer resp.Body.Close()

	var decoded relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return errors.Wrapf(err, "POST %s returned undecodable body", path)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s returned %d: %s", path, resp.StatusCode, decoded.Error)
	}
	if !decoded.Success {
		return fmt.Errorf("POST %s rejected: %s", path, decoded.Message)
	}
	return nil
}

// unknownField mirrors the relay's own sentinel handling for fields the
// resolver could not fill.
func unknownField(value string) bool {
	return value == "" || value == "null" || value == "unknown"
}
