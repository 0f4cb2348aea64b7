package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

// DefaultField is read when a secret reference names no field.
const DefaultField = "passphrase"

var (
	// ErrClientInit indicates failure to initialize the Vault API client.
	ErrClientInit = errors.New("vault client initialization failed")
	// ErrSecret indicates that a secret could not be read.
	ErrSecret = errors.New("vault secret unavailable")
)

type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
}

type Client struct {
	api    *vault.Client
	config *config
}

func WithAddress(address string) Option {
	return func(c *config) {
		c.address = address
	}
}

func WithToken(token string) Option {
	return func(c *config) {
		c.token = token
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It will perform AppRole login if roleID and roleName are both set, otherwise
// the static token is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, apiCfg.Error)
	}
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create Vault API client: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}

	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("%w: AppRole login failed: %v", ErrClientInit, err)
		}
	}

	return client, nil
}

// loginAppRole performs AppRole login using the configured roleID and roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	// Generate Secret ID
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("no response from %s", path)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp == nil || loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// Secret reads a single string value. ref is "<path>#<field>"; without a
// field DefaultField is used. KV version 1 and 2 mounts are both supported,
// for version 2 the path must include the "data/" segment.
func (c *Client) Secret(ctx context.Context, ref string) (string, error) {
	path, field, _ := strings.Cut(ref, "#")
	if field == "" {
		field = DefaultField
	}

	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrSecret, path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: no data found at path: %s", ErrSecret, path)
	}

	data := secret.Data
	// KV v2 wraps the values in data.data
	if nested, ok := data["data"].(map[string]any); ok {
		if _, isV2 := data["metadata"]; isV2 {
			data = nested
		}
	}

	value, ok := data[field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: field %q missing at path: %s", ErrSecret, field, path)
	}
	return value, nil
}

// Lazy connects on the first Secret call, so runs that never reference
// Vault never need it.
type Lazy struct {
	opts []Option

	once   sync.Once
	client *Client
	err    error
}

func NewLazy(opts ...Option) *Lazy {
	return &Lazy{opts: opts}
}

func (l *Lazy) Secret(ctx context.Context, ref string) (string, error) {
	l.once.Do(func() {
		l.client, l.err = NewClient(ctx, l.opts...)
	})
	if l.err != nil {
		return "", l.err
	}
	return l.client.Secret(ctx, ref)
}
