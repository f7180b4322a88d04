// Package assetbots はAssetBotsのREST APIをスナップショット取得元として扱うアダプターです
package assetbots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
)

const (
	DefaultPageSize = 1000
	DefaultMaxPages = 5
)

// APIError はAPIが2xx以外を返したことを表します
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("assetbots api error: %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Config はAPIクライアントの設定です
type Config struct {
	BaseURL           string
	APIKey            string
	PageSize          int
	MaxPages          int
	RequestsPerSecond float64
}

// Client はAssetBots APIのクライアントです
// APIの制限に合わせてリクエストを秒間RequestsPerSecond件に抑えます
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// New は新しいClientを作成します
// httpClientがnilの場合はX-Rayでトレースするデフォルトのクライアントを使います
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if httpClient == nil {
		httpClient = xray.Client(&http.Client{Timeout: 30 * time.Second})
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.Named("assetbots"),
		now:     time.Now,
	}
}

// ListAssets は資産を1ページ分取得します
func (c *Client) ListAssets(ctx context.Context, limit, offset int) ([]model.AssetSnapshot, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var resp listResponse
	if err := c.get(ctx, "/assets?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	now := c.now()
	assets := make([]model.AssetSnapshot, 0, len(resp.Data))
	for _, a := range resp.Data {
		if a.ID == "" {
			continue
		}
		assets = append(assets, a.toModel(now))
	}
	return assets, nil
}

// Snapshot は全ページを取得して現在の資産の一覧を返します
// 1ページがPageSize未満になるか、MaxPagesに達したら終了します
func (c *Client) Snapshot(ctx context.Context) ([]model.AssetSnapshot, error) {
	var all []model.AssetSnapshot
	offset := 0
	for page := 0; page < c.cfg.MaxPages; page++ {
		assets, err := c.ListAssets(ctx, c.cfg.PageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch assets page %d: %w", page, err)
		}
		all = append(all, assets...)

		if len(assets) < c.cfg.PageSize {
			return all, nil
		}
		offset += c.cfg.PageSize
	}

	c.logger.Warn("snapshot truncated at max pages",
		zap.Int("max_pages", c.cfg.MaxPages),
		zap.Int("page_size", c.cfg.PageSize),
		zap.Int("assets", len(all)),
	)
	return all, nil
}

// GetCheckoutDetails は貸出IDで貸出を直接参照します
// 貸出が存在しない場合はnilを返します
func (c *Client) GetCheckoutDetails(ctx context.Context, checkoutID string) (*model.CheckoutDetails, error) {
	var resp checkoutResponse
	err := c.get(ctx, "/checkouts/"+url.PathEscape(checkoutID), &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	return resp.Data.toDetails(), nil
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
