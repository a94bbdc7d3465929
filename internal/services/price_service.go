package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PriceFeed supplies the BTC/USD reference price for scheduled markets.
type PriceFeed interface {
	GetBTCPrice(ctx context.Context) (float64, error)
}

// PriceService fetches the BTC/USD reference price.
// Primary source is CoinGecko, fallback is CryptoCompare; a hard error is
// returned only when both fail. Responses are cached briefly and outbound
// calls are rate-limited to stay inside the free-tier quotas.
type PriceService struct {
	pricesMux sync.RWMutex
	price     float64
	lastFetch time.Time

	client  *http.Client
	limiter *rate.Limiter
}

const priceCacheTTL = 5 * time.Second

func NewPriceService() *PriceService {
	return &PriceService{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 3),
	}
}

// GetBTCPrice returns the current BTC/USD price.
func (ps *PriceService) GetBTCPrice(ctx context.Context) (float64, error) {
	ps.pricesMux.RLock()
	price, lastFetch := ps.price, ps.lastFetch
	ps.pricesMux.RUnlock()

	if price > 0 && time.Since(lastFetch) < priceCacheTTL {
		return price, nil
	}

	if err := ps.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("price fetch rate limit: %w", err)
	}

	price, err := ps.fetchCoinGecko(ctx)
	if err != nil {
		log.Printf("[PriceService] CoinGecko failed (%v), trying CryptoCompare...", err)
		price, err = ps.fetchCryptoCompare(ctx)
		if err != nil {
			return 0, fmt.Errorf("all price sources failed: %w", err)
		}
	}

	ps.pricesMux.Lock()
	ps.price = price
	ps.lastFetch = time.Now()
	ps.pricesMux.Unlock()

	return price, nil
}

// fetchCoinGecko fetches the BTC price from CoinGecko.
// Response: {"bitcoin":{"usd":97123.0}}
func (ps *PriceService) fetchCoinGecko(ctx context.Context) (float64, error) {
	url := "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("CoinGecko request build failed: %w", err)
	}

	resp, err := ps.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("CoinGecko request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("CoinGecko returned %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("CoinGecko parse error: %w", err)
	}

	price := result["bitcoin"]["usd"]
	if price == 0 {
		return 0, fmt.Errorf("CoinGecko returned no BTC price")
	}

	log.Printf("[PriceService] BTC price: $%.2f (CoinGecko)", price)
	return price, nil
}

// fetchCryptoCompare fetches the BTC price from CryptoCompare as fallback.
// Response: {"USD": 97123.0}
func (ps *PriceService) fetchCryptoCompare(ctx context.Context) (float64, error) {
	url := "https://min-api.cryptocompare.com/data/price?fsym=BTC&tsyms=USD"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("CryptoCompare request build failed: %w", err)
	}

	resp, err := ps.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("CryptoCompare request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("CryptoCompare returned %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("CryptoCompare parse error: %w", err)
	}

	price, ok := result["USD"]
	if !ok || price == 0 {
		return 0, fmt.Errorf("CryptoCompare returned no USD price")
	}

	log.Printf("[PriceService] BTC price: $%.2f (CryptoCompare fallback)", price)
	return price, nil
}
