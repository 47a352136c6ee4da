// Package tierrules предоставляет клиент внешнего провайдера правил объёмного ценообразования.
package tierrules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/cartengine-system/internal/model"
)

const cacheTTL = 30 * time.Second

// Client инкапсулирует HTTP-взаимодействие с провайдером правил.
// Ответы кэшируются по организации, чтобы не ходить к провайдеру на каждую мутацию.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	rules     []model.TierRule
	fetchedAt time.Time
}

// NewClient создаёт клиент провайдера правил по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
		cache:      make(map[string]cacheEntry),
	}
}

// RulesForOrg возвращает активные правила организации, при необходимости обновляя кэш.
func (c *Client) RulesForOrg(ctx context.Context, orgID string) ([]model.TierRule, error) {
	if c == nil || c.baseURL == "" {
		return nil, nil
	}

	c.mu.RLock()
	entry, ok := c.cache[orgID]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < cacheTTL {
		return entry.rules, nil
	}

	rules, err := c.fetch(ctx, orgID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[orgID] = cacheEntry{rules: rules, fetchedAt: time.Now()}
	c.mu.Unlock()

	return rules, nil
}

// Refresh обновляет кэш для всех уже известных организаций.
func (c *Client) Refresh(ctx context.Context) {
	if c == nil || c.baseURL == "" {
		return
	}

	c.mu.RLock()
	orgs := make([]string, 0, len(c.cache))
	for orgID := range c.cache {
		orgs = append(orgs, orgID)
	}
	c.mu.RUnlock()

	for _, orgID := range orgs {
		rules, err := c.fetch(ctx, orgID)
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.cache[orgID] = cacheEntry{rules: rules, fetchedAt: time.Now()}
		c.mu.Unlock()
	}
}

func (c *Client) fetch(ctx context.Context, orgID string) ([]model.TierRule, error) {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/orgs/%s/tier-rules", base, orgID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var rules []model.TierRule
	if err := json.NewDecoder(resp.Body).Decode(&rules); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return rules, nil
}
