package daraja

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type stubDoer struct {
	responses map[string]*http.Response
	requests  []*http.Request
	err       error
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if d.err != nil {
		return nil, d.err
	}
	for suffix, resp := range d.responses {
		if strings.HasSuffix(req.URL.Path, suffix) || strings.Contains(req.URL.RequestURI(), suffix) {
			return resp, nil
		}
	}
	return jsonResponse(http.StatusNotFound, map[string]any{}), nil
}

func jsonResponse(status int, payload any) *http.Response {
	body, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, doer Doer) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL:        "https://sandbox.example",
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://api.example/payments/callback",
		HTTPClient:     doer,
		Clock: func() time.Time {
			return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestRequestPushSuccess(t *testing.T) {
	doer := &stubDoer{responses: map[string]*http.Response{
		"oauth/v1/generate": jsonResponse(http.StatusOK, map[string]any{
			"access_token": "token-123",
			"expires_in":   "3599",
		}),
		"stkpush/v1/processrequest": jsonResponse(http.StatusOK, map[string]any{
			"MerchantRequestID":   "mr-1",
			"CheckoutRequestID":   "ws_CO_123",
			"ResponseCode":        "0",
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage":     "Success",
		}),
	}}

	client := newTestClient(t, doer)
	resp, err := client.RequestPush(context.Background(), PushRequest{
		Amount:           7200,
		PhoneNumber:      "0712345678",
		AccountReference: "SN26031400",
		Description:      "Order SN26031400",
	})
	if err != nil {
		t.Fatalf("RequestPush returned error: %v", err)
	}
	if resp.CheckoutRequestID != "ws_CO_123" {
		t.Errorf("unexpected checkout request id: %s", resp.CheckoutRequestID)
	}
	if resp.MerchantRequestID != "mr-1" {
		t.Errorf("unexpected merchant request id: %s", resp.MerchantRequestID)
	}
	if resp.ResponseCode != 0 {
		t.Errorf("unexpected response code: %d", resp.ResponseCode)
	}

	if len(doer.requests) != 2 {
		t.Fatalf("expected token request then push request, got %d requests", len(doer.requests))
	}
	tokenReq := doer.requests[0]
	if user, pass, ok := tokenReq.BasicAuth(); !ok || user != "ck" || pass != "cs" {
		t.Errorf("expected basic auth on token request, got %s/%s", user, pass)
	}
	pushReq := doer.requests[1]
	if got := pushReq.Header.Get("Authorization"); got != "Bearer token-123" {
		t.Errorf("unexpected push authorization header %q", got)
	}

	var payload pushPayload
	raw, _ := io.ReadAll(pushReq.Body)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding push payload: %v", err)
	}
	if payload.PhoneNumber != "254712345678" {
		t.Errorf("expected normalised phone, got %s", payload.PhoneNumber)
	}
	if payload.TransactionType != "CustomerPayBillOnline" {
		t.Errorf("unexpected transaction type %s", payload.TransactionType)
	}
	if payload.Timestamp != "20260314123000" {
		t.Errorf("expected EAT timestamp, got %s", payload.Timestamp)
	}
}

func TestRequestPushRejected(t *testing.T) {
	doer := &stubDoer{responses: map[string]*http.Response{
		"oauth/v1/generate": jsonResponse(http.StatusOK, map[string]any{
			"access_token": "token-123",
		}),
		"stkpush/v1/processrequest": jsonResponse(http.StatusOK, map[string]any{
			"MerchantRequestID":   "mr-1",
			"CheckoutRequestID":   "ws_CO_123",
			"ResponseCode":        "1",
			"ResponseDescription": "Insufficient balance on the utility account",
		}),
	}}

	client := newTestClient(t, doer)
	_, err := client.RequestPush(context.Background(), PushRequest{
		Amount:      100,
		PhoneNumber: "254712345678",
	})
	if !errors.Is(err, ErrPushRejected) {
		t.Fatalf("expected ErrPushRejected, got %v", err)
	}
}

func TestRequestPushFetchesTokenPerCall(t *testing.T) {
	doer := &stubDoer{responses: map[string]*http.Response{}}
	doer.responses["oauth/v1/generate"] = jsonResponse(http.StatusOK, map[string]any{"access_token": "t"})

	client := newTestClient(t, doer)
	for i := 0; i < 2; i++ {
		doer.responses["stkpush/v1/processrequest"] = jsonResponse(http.StatusOK, map[string]any{
			"MerchantRequestID": "mr",
			"CheckoutRequestID": "co",
			"ResponseCode":      "0",
		})
		if _, err := client.RequestPush(context.Background(), PushRequest{Amount: 10, PhoneNumber: "0712345678"}); err != nil {
			t.Fatalf("RequestPush %d returned error: %v", i, err)
		}
		doer.responses["oauth/v1/generate"] = jsonResponse(http.StatusOK, map[string]any{"access_token": "t"})
	}

	tokenCalls := 0
	for _, req := range doer.requests {
		if strings.Contains(req.URL.Path, "oauth") {
			tokenCalls++
		}
	}
	if tokenCalls != 2 {
		t.Fatalf("expected a fresh token per push, got %d token calls", tokenCalls)
	}
}

func TestQueryStatusPending(t *testing.T) {
	doer := &stubDoer{responses: map[string]*http.Response{
		"oauth/v1/generate": jsonResponse(http.StatusOK, map[string]any{"access_token": "t"}),
		"stkpushquery/v1/query": jsonResponse(http.StatusInternalServerError, map[string]any{
			"requestId":    "req-1",
			"errorCode":    "500.001.1001",
			"errorMessage": "The transaction is being processed",
		}),
	}}

	client := newTestClient(t, doer)
	_, err := client.QueryStatus(context.Background(), "ws_CO_123")
	if !errors.Is(err, ErrResultPending) {
		t.Fatalf("expected ErrResultPending, got %v", err)
	}
}

func TestQueryStatusTerminal(t *testing.T) {
	doer := &stubDoer{responses: map[string]*http.Response{
		"oauth/v1/generate": jsonResponse(http.StatusOK, map[string]any{"access_token": "t"}),
		"stkpushquery/v1/query": jsonResponse(http.StatusOK, map[string]any{
			"ResponseCode": "0",
			"ResultCode":   "1032",
			"ResultDesc":   "Request cancelled by user",
		}),
	}}

	client := newTestClient(t, doer)
	result, err := client.QueryStatus(context.Background(), "ws_CO_123")
	if err != nil {
		t.Fatalf("QueryStatus returned error: %v", err)
	}
	if result.ResultCode != 1032 {
		t.Errorf("unexpected result code %d", result.ResultCode)
	}
	if result.ResultDesc != "Request cancelled by user" {
		t.Errorf("unexpected result desc %s", result.ResultDesc)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0712345678", want: "254712345678"},
		{in: "+254712345678", want: "254712345678"},
		{in: "254712345678", want: "254712345678"},
		{in: "712345678", want: "254712345678"},
		{in: "0110123456", want: "254110123456"},
		{in: "07 1234 5678", want: "254712345678"},
		{in: "0812345678", wantErr: true},
		{in: "071234567", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidPhone) {
				t.Errorf("NormalizePhone(%q): expected ErrInvalidPhone, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePhone(%q) returned error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
