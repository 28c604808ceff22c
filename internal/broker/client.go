package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"

	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
)

const (
	sandboxEndpoint = "sandbox-invest-public-api.tinkoff.ru:443"
	liveEndpoint    = "invest-public-api.tinkoff.ru:443"
)

// Client wraps the investgo SDK. A watch set drives the price poller
// in poller.go; the connected flag flips on API failures and recovers
// through the bounded reconnect loop.
type Client struct {
	client *investgo.Client
	cfg    *config.Config
	logger *logger.Logger

	connected atomic.Bool

	mu      sync.Mutex
	watched map[string]struct{}

	uidCache sync.Map // symbol -> instrument uid
}

func NewClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, error) {
	endpoint := liveEndpoint
	if cfg.IsSandbox() {
		endpoint = sandboxEndpoint
	}

	investCfg := investgo.Config{
		EndPoint:  endpoint,
		Token:     cfg.Broker.Token,
		AccountId: cfg.Broker.AccountID,
		AppName:   "aitrader",
	}

	client, err := investgo.NewClient(ctx, investCfg, log)
	if err != nil {
		return nil, fmt.Errorf("create investgo client: %w", err)
	}

	c := &Client{
		client:  client,
		cfg:     cfg,
		logger:  log,
		watched: make(map[string]struct{}),
	}
	c.connected.Store(true)

	if cfg.IsSandbox() && cfg.Broker.AccountID == "" {
		if err := c.setupSandbox(); err != nil {
			return nil, fmt.Errorf("setup sandbox: %w", err)
		}
	}

	return c, nil
}

func (c *Client) setupSandbox() error {
	sandbox := c.client.NewSandboxServiceClient()

	_, err := sandbox.SandboxPayIn(&investgo.SandboxPayInRequest{
		AccountId: c.client.Config.AccountId,
		Currency:  "RUB",
		Unit:      1000000,
		Nano:      0,
	})
	if err != nil {
		return fmt.Errorf("sandbox pay in: %w", err)
	}

	c.logger.Info("sandbox account funded", "account_id", c.client.Config.AccountId)
	return nil
}

func (c *Client) AccountID() string {
	return c.client.Config.AccountId
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) Watch(symbol string) {
	c.mu.Lock()
	c.watched[symbol] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) Unwatch(symbol string) {
	c.mu.Lock()
	delete(c.watched, symbol)
	c.mu.Unlock()
}

func (c *Client) watchedSymbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.watched))
	for s := range c.watched {
		out = append(out, s)
	}
	return out
}

// resolveUID maps a ticker symbol to its instrument UID, cached for
// the process lifetime.
func (c *Client) resolveUID(symbol string) (string, error) {
	if cached, ok := c.uidCache.Load(symbol); ok {
		return cached.(string), nil
	}

	instruments := c.client.NewInstrumentsServiceClient()
	resp, err := instruments.FindInstrument(symbol)
	if err != nil {
		return "", fmt.Errorf("find instrument %s: %w", symbol, err)
	}

	for _, inst := range resp.GetInstruments() {
		if inst.GetTicker() == symbol {
			uid := inst.GetUid()
			c.uidCache.Store(symbol, uid)
			return uid, nil
		}
	}
	if insts := resp.GetInstruments(); len(insts) > 0 {
		uid := insts[0].GetUid()
		c.uidCache.Store(symbol, uid)
		return uid, nil
	}
	return "", fmt.Errorf("instrument not found: %s", symbol)
}

func (c *Client) Stop() error {
	return c.client.Stop()
}
