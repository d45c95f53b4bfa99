package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/119969788/poly-copy-trading/internal/crypto"
	"github.com/119969788/poly-copy-trading/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API: order books, order placement and API key derivation.
type ClobClient struct {
	baseURL   string
	transport *Transport
	signer    *crypto.Signer

	mu    sync.RWMutex
	creds crypto.APICreds
}

// NewClobClient creates a new CLOB REST client. signer may be nil for
// read-only use (order books).
func NewClobClient(baseURL string, transport *Transport, signer *crypto.Signer, creds crypto.APICreds) *ClobClient {
	return &ClobClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: transport,
		signer:    signer,
		creds:     creds,
	}
}

// GetOrderBook returns the current book for a token. Closed markets answer
// with domain.ErrNotFound.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/book?"+params.Encode(), nil)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: create request: %w", err)
	}
	body, err := c.transport.Do(req)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return BookToDomainSnapshot(book.AssetID, book.Market, book.Bids, book.Asks, book.Timestamp), nil
}

// HasCreds reports whether L2 credentials are loaded.
func (c *ClobClient) HasCreds() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.creds.Empty()
}

// PostOrder submits a signed order. A venue refusal, either as
// success=false or as a 4xx validation answer, wraps domain.ErrOrderRejected.
func (c *ClobClient) PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	c.mu.RLock()
	owner := c.creds.Key
	c.mu.RUnlock()
	if order.Owner != "" {
		owner = order.Owner
	}

	side := "BUY"
	if order.Side == domain.OrderSideSell {
		side = "SELL"
	}
	body := map[string]any{
		"order": map[string]any{
			"salt":          json.Number(order.Salt),
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         "0x0000000000000000000000000000000000000000",
			"tokenId":       order.TokenID,
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    "0",
			"nonce":         "0",
			"feeRateBps":    "0",
			"side":          side,
			"signatureType": order.SignatureType,
			"signature":     order.Signature,
		},
		"owner":     owner,
		"orderType": string(order.Type),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w: %s", domain.ErrOrderRejected, se.Body)
		}
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := apiResult.ToDomainOrderResult()
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrOrderRejected, result.Message)
	}
	return result, nil
}

// DeriveAPIKey obtains L2 credentials for the signer's address using L1
// (EIP-712) auth. It derives the existing key and creates one when the
// address has none yet. The credentials are kept on the client.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (crypto.APICreds, error) {
	if c.signer == nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: derive api key: %w: no signer", domain.ErrSigningFailed)
	}

	creds, err := c.l1Request(ctx, http.MethodGet, "/auth/derive-api-key")
	if err != nil {
		var createErr error
		creds, createErr = c.l1Request(ctx, http.MethodPost, "/auth/api-key")
		if createErr != nil {
			return crypto.APICreds{}, fmt.Errorf("polymarket/clob: derive api key: %w", errors.Join(err, createErr))
		}
	}

	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return creds, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *ClobClient) l1Request(ctx context.Context, method, path string) (crypto.APICreds, error) {
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return crypto.APICreds{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return crypto.APICreds{}, fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	respBody, err := c.transport.Do(req)
	if err != nil {
		return crypto.APICreds{}, err
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return crypto.APICreds{}, fmt.Errorf("decode auth response: %w", err)
	}
	creds := crypto.APICreds{Key: authResp.APIKey, Secret: authResp.Secret, Passphrase: authResp.Passphrase}
	if creds.Empty() {
		return crypto.APICreds{}, fmt.Errorf("%w: empty credentials in auth response", domain.ErrUnauthorized)
	}
	return creds, nil
}

// doAuthenticatedRequest sends an L2 (HMAC) authenticated request and
// returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("%w: no signer configured", domain.ErrUnauthorized)
	}

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	if creds.Empty() {
		return nil, fmt.Errorf("%w: no api credentials", domain.ErrUnauthorized)
	}
	for k, v := range creds.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	return c.transport.Do(req)
}
