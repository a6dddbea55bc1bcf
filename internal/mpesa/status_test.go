package mpesa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seven7-ai/mpesa-gobackend/internal/config"
)

const maxRetriesForTest = 3

func statusTestConfig(t *testing.T, certPath string) *config.Config {
	t.Helper()
	cfg, err := config.New(config.Config{
		ConsumerKey:       "test_key",
		ConsumerSecret:    "test_secret",
		ShortCode:         "174379",
		PassKey:           "test_passkey",
		CallbackURL:       "https://example.com/callback",
		InitiatorName:     "testapi",
		InitiatorPassword: "initiator-secret",
		CertificatePath:   certPath,
		MaxRetries:        maxRetriesForTest,
		RetryDelay:        5 * time.Second,
	})
	require.NoError(t, err)
	return cfg
}

// fakeSleeper records requested delays and fires immediately.
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(d time.Duration) <-chan time.Time {
	f.delays = append(f.delays, d)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func stillProcessingBody() string {
	return `{"Result":{"ResultType":1,"ResultCode":1,"ResultDesc":"queued"}}`
}

func definitiveBody() string {
	return `{
		"Result": {
			"ResultType": 0,
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultParameters": {
				"ResultParameter": [{"Key": "ReceiptNo", "Value": "NLJ7RT61SV"}]
			}
		}
	}`
}

func newStatusServer(t *testing.T, calls *atomic.Int64, respond func(n int64, w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			w.Write([]byte(`{"access_token":"tok"}`))
			return
		}
		require.Equal(t, "/mpesa/transactionstatus/v1/query", r.URL.Path)
		respond(calls.Add(1), w, r)
	}))
}

func TestCheckStatusResolvesAfterRetries(t *testing.T) {
	certPath, _ := writeTestCertificate(t)
	var calls atomic.Int64
	var payload map[string]interface{}
	server := newStatusServer(t, &calls, func(n int64, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		}
		if n <= maxRetriesForTest {
			w.Write([]byte(stillProcessingBody()))
			return
		}
		w.Write([]byte(definitiveBody()))
	})
	defer server.Close()

	sleeper := &fakeSleeper{}
	client := NewClient(statusTestConfig(t, certPath),
		WithBaseURL(server.URL),
		WithSleep(sleeper.sleep),
	)

	record, err := client.CheckStatus(context.Background(), StatusQuery{
		CheckoutRequestID: "ws_CO_191220191020363925",
	})
	require.NoError(t, err)

	require.Equal(t, int64(maxRetriesForTest+1), calls.Load())
	require.Len(t, sleeper.delays, maxRetriesForTest)
	for _, d := range sleeper.delays {
		require.Equal(t, 5*time.Second, d)
	}

	require.True(t, record.Succeeded)
	require.Equal(t, "ws_CO_191220191020363925", record.CheckoutRequestID)
	require.Equal(t, "NLJ7RT61SV", record.ReceiptNumber)

	require.Equal(t, "TransactionStatusQuery", payload["CommandID"])
	require.Equal(t, "testapi", payload["Initiator"])
	require.NotEmpty(t, payload["SecurityCredential"])
	require.Equal(t, "ws_CO_191220191020363925", payload["TransactionID"])
	require.Equal(t, "174379", payload["PartyA"])
	require.Equal(t, "4", payload["IdentifierType"])
	require.Equal(t, "https://example.com/callback", payload["ResultURL"])
	require.Equal(t, "https://example.com/callback", payload["QueueTimeOutURL"])
	require.NotEmpty(t, payload["Remarks"])
}

func TestCheckStatusExhaustsRetries(t *testing.T) {
	certPath, _ := writeTestCertificate(t)
	var calls atomic.Int64
	server := newStatusServer(t, &calls, func(n int64, w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(stillProcessingBody()))
	})
	defer server.Close()

	sleeper := &fakeSleeper{}
	client := NewClient(statusTestConfig(t, certPath),
		WithBaseURL(server.URL),
		WithSleep(sleeper.sleep),
	)

	_, err := client.CheckStatus(context.Background(), StatusQuery{CheckoutRequestID: "ws_CO_1"})

	var transactionErr *TransactionError
	require.ErrorAs(t, err, &transactionErr)
	require.Contains(t, transactionErr.Error(), "timed out")
	require.Equal(t, int64(maxRetriesForTest+1), calls.Load())
	require.Len(t, sleeper.delays, maxRetriesForTest)
}

func TestCheckStatusHardFailureAbortsImmediately(t *testing.T) {
	certPath, _ := writeTestCertificate(t)
	var calls atomic.Int64
	server := newStatusServer(t, &calls, func(n int64, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"errorMessage":"Spike arrest violation"}`))
	})
	defer server.Close()

	sleeper := &fakeSleeper{}
	client := NewClient(statusTestConfig(t, certPath),
		WithBaseURL(server.URL),
		WithSleep(sleeper.sleep),
	)

	_, err := client.CheckStatus(context.Background(), StatusQuery{CheckoutRequestID: "ws_CO_1"})

	var transactionErr *TransactionError
	require.ErrorAs(t, err, &transactionErr)
	require.Equal(t, http.StatusServiceUnavailable, transactionErr.StatusCode)
	require.Equal(t, int64(1), calls.Load())
	require.Empty(t, sleeper.delays)
}

func TestCheckStatusCancellation(t *testing.T) {
	certPath, _ := writeTestCertificate(t)
	var calls atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	server := newStatusServer(t, &calls, func(n int64, w http.ResponseWriter, r *http.Request) {
		cancel() // cancel while the poll loop is between attempts
		w.Write([]byte(stillProcessingBody()))
	})
	defer server.Close()

	client := NewClient(statusTestConfig(t, certPath),
		WithBaseURL(server.URL),
		WithSleep(func(time.Duration) <-chan time.Time { return make(chan time.Time) }),
	)

	_, err := client.CheckStatus(ctx, StatusQuery{CheckoutRequestID: "ws_CO_1"})

	var transactionErr *TransactionError
	require.ErrorAs(t, err, &transactionErr)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int64(1), calls.Load())
}

func TestCheckStatusValidation(t *testing.T) {
	certPath, _ := writeTestCertificate(t)
	var calls atomic.Int64
	server := newStatusServer(t, &calls, func(n int64, w http.ResponseWriter, r *http.Request) {})
	defer server.Close()

	client := NewClient(statusTestConfig(t, certPath), WithBaseURL(server.URL))

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name  string
		query StatusQuery
	}{
		{"no identifier", StatusQuery{}},
		{"both identifiers", StatusQuery{CheckoutRequestID: "a", OriginatorConversationID: "b"}},
		{"remarks too long", StatusQuery{CheckoutRequestID: "a", Remarks: string(long)}},
		{"occasion too long", StatusQuery{CheckoutRequestID: "a", Occasion: string(long)}},
		{"bad shortcode", StatusQuery{CheckoutRequestID: "a", ShortCode: "12"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.CheckStatus(context.Background(), tc.query)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}
	require.Zero(t, calls.Load())
}

func TestCheckStatusRequiresInitiator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(t), WithBaseURL(server.URL))
	_, err := client.CheckStatus(context.Background(), StatusQuery{CheckoutRequestID: "ws_CO_1"})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}
