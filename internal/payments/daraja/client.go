package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Logger defines the logging contract for gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Doer abstracts the HTTP client so tests can intercept requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	// ErrInvalidPhone indicates the phone number could not be normalised to
	// the canonical 2547XXXXXXXX / 2541XXXXXXXX format.
	ErrInvalidPhone = errors.New("daraja: invalid phone number")
	// ErrPushRejected indicates the provider synchronously rejected the push request.
	ErrPushRejected = errors.New("daraja: push request rejected")
	// ErrResultPending indicates the provider has not produced a result yet.
	ErrResultPending = errors.New("daraja: result not yet available")
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	timestampLayout = "20060102150405"

	// Provider error code meaning "transaction is being processed".
	processingErrorCode = "500.001.1001"
)

// Daraja timestamps are expressed in East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

// ParseTransactionTimestamp parses a provider timestamp (yyyymmddhhmmss, EAT),
// the format callbacks carry in their TransactionDate metadata item.
func ParseTransactionTimestamp(value string) (time.Time, error) {
	return time.ParseInLocation(timestampLayout, value, eat)
}

var phonePattern = regexp.MustCompile(`^254(7|1)\d{8}$`)

// ClientConfig configures the STK push client.
type ClientConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	HTTPClient     Doer
	Logger         Logger
	Clock          func() time.Time
}

// Client talks to the Daraja STK push API. A fresh access token is obtained
// via client-credentials exchange on every call; the provider's tokens are
// short-lived and callers that need caching layer it on top.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string
	http           Doer
	logger         Logger
	clock          func() time.Time
}

// NewClient constructs a Client from the supplied configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("daraja: base url is required")
	}
	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil, errors.New("daraja: consumer credentials are required")
	}
	if strings.TrimSpace(cfg.ShortCode) == "" {
		return nil, errors.New("daraja: short code is required")
	}
	if strings.TrimSpace(cfg.Passkey) == "" {
		return nil, errors.New("daraja: passkey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Client{
		baseURL:        baseURL,
		consumerKey:    strings.TrimSpace(cfg.ConsumerKey),
		consumerSecret: strings.TrimSpace(cfg.ConsumerSecret),
		shortCode:      strings.TrimSpace(cfg.ShortCode),
		passkey:        strings.TrimSpace(cfg.Passkey),
		callbackURL:    strings.TrimSpace(cfg.CallbackURL),
		http:           httpClient,
		logger:         logger,
		clock:          clock,
	}, nil
}

// PushRequest describes one STK push attempt.
type PushRequest struct {
	Amount           int64
	PhoneNumber      string
	AccountReference string
	Description      string
}

// PushResponse is the provider's synchronous answer to a push request.
type PushResponse struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        int
	ResponseDescription string
	CustomerMessage     string
}

// StatusResult is the provider's answer to a status query for a dispatched push.
type StatusResult struct {
	ResultCode int
	ResultDesc string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type pushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponseBody struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type queryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryResponseBody struct {
	ResponseCode string `json:"ResponseCode"`
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
}

type errorResponseBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// RequestPush dispatches an STK push prompt to the customer's phone. The
// provider answering with a non-zero response code is a synchronous failure
// reported as ErrPushRejected.
func (c *Client) RequestPush(ctx context.Context, req PushRequest) (PushResponse, error) {
	if c == nil {
		return PushResponse{}, errors.New("daraja: client is nil")
	}
	if req.Amount <= 0 {
		return PushResponse{}, errors.New("daraja: amount must be positive")
	}

	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return PushResponse{}, err
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return PushResponse{}, err
	}

	timestamp := c.clock().In(eat).Format(timestampLayout)
	payload := pushPayload{
		BusinessShortCode: c.shortCode,
		Password:          stkPassword(c.shortCode, c.passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            phone,
		PartyB:            c.shortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.callbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	var body pushResponseBody
	if err := c.postJSON(ctx, pushPath, token, payload, &body); err != nil {
		return PushResponse{}, err
	}

	code, err := strconv.Atoi(strings.TrimSpace(body.ResponseCode))
	if err != nil {
		return PushResponse{}, fmt.Errorf("daraja: unparsable response code %q", body.ResponseCode)
	}

	resp := PushResponse{
		MerchantRequestID:   body.MerchantRequestID,
		CheckoutRequestID:   body.CheckoutRequestID,
		ResponseCode:        code,
		ResponseDescription: body.ResponseDescription,
		CustomerMessage:     body.CustomerMessage,
	}

	if code != 0 {
		c.logger(ctx, "daraja.push.rejected", map[string]any{
			"response_code": code,
			"description":   body.ResponseDescription,
		})
		return resp, fmt.Errorf("%w: %s", ErrPushRejected, body.ResponseDescription)
	}

	c.logger(ctx, "daraja.push.accepted", map[string]any{
		"merchant_request_id": body.MerchantRequestID,
		"checkout_request_id": body.CheckoutRequestID,
	})
	return resp, nil
}

// QueryStatus asks the provider for the outcome of a dispatched push. While the
// customer has not answered the prompt the provider reports the transaction as
// still processing, surfaced here as ErrResultPending.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (StatusResult, error) {
	if c == nil {
		return StatusResult{}, errors.New("daraja: client is nil")
	}
	checkoutID := strings.TrimSpace(checkoutRequestID)
	if checkoutID == "" {
		return StatusResult{}, errors.New("daraja: checkout request id is required")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return StatusResult{}, err
	}

	timestamp := c.clock().In(eat).Format(timestampLayout)
	payload := queryPayload{
		BusinessShortCode: c.shortCode,
		Password:          stkPassword(c.shortCode, c.passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutID,
	}

	var body queryResponseBody
	if err := c.postJSON(ctx, queryPath, token, payload, &body); err != nil {
		return StatusResult{}, err
	}

	resultCode, err := strconv.Atoi(strings.TrimSpace(body.ResultCode))
	if err != nil {
		return StatusResult{}, fmt.Errorf("daraja: unparsable result code %q", body.ResultCode)
	}

	return StatusResult{ResultCode: resultCode, ResultDesc: body.ResultDesc}, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("daraja: build token request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("daraja: token request: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("daraja: token request failed with status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("daraja: decode token response: %w", err)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return "", errors.New("daraja: token response missing access token")
	}
	return body.AccessToken, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("daraja: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("daraja: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daraja: request %s: %w", path, err)
	}
	defer drainAndClose(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("daraja: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var providerErr errorResponseBody
		if err := json.Unmarshal(raw, &providerErr); err == nil && providerErr.ErrorCode != "" {
			if providerErr.ErrorCode == processingErrorCode {
				return ErrResultPending
			}
			return fmt.Errorf("daraja: provider error %s: %s", providerErr.ErrorCode, providerErr.ErrorMessage)
		}
		return fmt.Errorf("daraja: request %s failed with status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("daraja: decode response: %w", err)
	}
	return nil
}

// NormalizePhone converts common Kenyan phone formats to the canonical
// international form the provider requires, e.g. 0712345678 -> 254712345678.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case strings.HasPrefix(cleaned, "254"):
		// already international
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		cleaned = "254" + cleaned[1:]
	case (strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1")) && len(cleaned) == 9:
		cleaned = "254" + cleaned
	}

	if !phonePattern.MatchString(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return cleaned, nil
}

func stkPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
