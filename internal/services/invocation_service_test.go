package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"emcp-client/internal/clients"
	"emcp-client/internal/events"
	"emcp-client/internal/models"
	"emcp-client/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	status int
	body   interface{}
}

type recordedRequest struct {
	ToolID string
	Auth   string
	Proof  string
}

// fakeMarketplace answers /api/tools/use/:id with scripted replies in order
type fakeMarketplace struct {
	mu       sync.Mutex
	replies  []reply
	requests []recordedRequest
}

func (f *fakeMarketplace) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func newFakeMarketplace(t *testing.T, replies ...reply) (*fakeMarketplace, *clients.MarketplaceClient) {
	t.Helper()
	fake := &fakeMarketplace{replies: replies}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/tools/use/:id", func(c *gin.Context) {
		fake.mu.Lock()
		fake.requests = append(fake.requests, recordedRequest{
			ToolID: c.Param("id"),
			Auth:   c.GetHeader("Authorization"),
			Proof:  c.GetHeader(clients.HeaderTransactionHash),
		})
		if len(fake.replies) == 0 {
			fake.mu.Unlock()
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "unexpected request"})
			return
		}
		next := fake.replies[0]
		fake.replies = fake.replies[1:]
		fake.mu.Unlock()

		if s, ok := next.body.(string); ok {
			c.Data(next.status, "application/json", []byte(s))
			return
		}
		c.JSON(next.status, next.body)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fake, clients.NewMarketplaceClientWithHTTP(srv.URL+"/api", "", srv.Client())
}

type fakeWallet struct {
	mu    sync.Mutex
	calls []models.PaymentRequirement
	ctxs  []context.Context
	hash  string
	err   error
}

func (w *fakeWallet) Pay(ctx context.Context, req models.PaymentRequirement) (models.PaymentProof, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, req)
	w.ctxs = append(w.ctxs, ctx)
	if w.err != nil {
		return models.PaymentProof{}, w.err
	}
	return models.PaymentProof{TransactionHash: w.hash}, nil
}

func (w *fakeWallet) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

type countingConfirmer struct {
	calls  atomic.Int32
	answer bool
	err    error
}

func (c *countingConfirmer) ConfirmPayment(context.Context, string, models.PaymentRequirement) (bool, error) {
	c.calls.Add(1)
	return c.answer, c.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []events.PaymentEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.PaymentEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var challenge = reply{http.StatusPaymentRequired, gin.H{"detail": gin.H{"amount": 0.01, "receiver": "0xABC", "message": "Payment required"}}}

func success(msg string, seconds float64) reply {
	return reply{http.StatusOK, gin.H{"status": "success", "message": msg, "processing_time": seconds}}
}

func request() models.InvocationRequest {
	return models.InvocationRequest{ToolID: "tool-42", ToolName: "Weather", Credential: "tok_abc"}
}

func TestInvoke_NoChallenge(t *testing.T) {
	fake, client := newFakeMarketplace(t, success("ok", 0.5))
	w := &fakeWallet{hash: "0x1"}
	confirmer := &countingConfirmer{answer: true}
	notes := NewRecordingNotifier(0)

	svc := NewInvocationService(client, confirmer, notes, WithWallet(w))
	result, err := svc.Invoke(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "ok", result.Message)
	assert.Equal(t, 0.5, result.ProcessingTime)
	assert.False(t, result.Paid)

	requests := fake.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "tool-42", requests[0].ToolID)
	assert.Equal(t, "Bearer tok_abc", requests[0].Auth)
	assert.Empty(t, requests[0].Proof)
	assert.Zero(t, confirmer.calls.Load())
	assert.Zero(t, w.Calls())

	assert.Equal(t, []string{"Running Weather...", "Status: Success | Message: ok | Time: 0.50s"}, notes.Messages())
	assert.Equal(t, LevelSuccess, notes.Notifications()[1].Level)
}

func TestInvoke_PaidRetryCarriesProof(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge, success("ok", 1.2))
	w := &fakeWallet{hash: "0xdeadbeef"}
	confirmer := &countingConfirmer{answer: true}
	notes := NewRecordingNotifier(0)
	pub := &recordingPublisher{}

	svc := NewInvocationService(client, confirmer, notes, WithWallet(w), WithEvents(pub))
	result, err := svc.Invoke(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "ok", result.Message)
	assert.Equal(t, 1.2, result.ProcessingTime)
	assert.True(t, result.Paid)
	assert.Equal(t, "0xdeadbeef", result.Transaction)

	requests := fake.Requests()
	require.Len(t, requests, 2)
	assert.Empty(t, requests[0].Proof)
	assert.Equal(t, "0xdeadbeef", requests[1].Proof)
	assert.Equal(t, "Bearer tok_abc", requests[1].Auth)

	assert.EqualValues(t, 1, confirmer.calls.Load())
	require.Equal(t, 1, w.Calls())
	assert.Equal(t, models.PaymentRequirement{Amount: "0.01", Receiver: "0xABC", Currency: "ETH", Message: "Payment required"}, w.calls[0])

	assert.Equal(t, []string{
		"Running Weather...",
		"Payment required: 0.01 ETH to 0xABC",
		"Opening wallet...",
		"Payment sent! Verifying...",
		"Status: Success | Message: ok | Time: 1.20s",
	}, notes.Messages())
	assert.Equal(t, []events.PaymentEventType{events.PaymentAttempt, events.PaymentSuccess}, pub.Types())
}

func TestInvoke_DeclinedMakesNoFurtherCalls(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge, success("ok", 1))
	w := &fakeWallet{hash: "0x1"}
	notes := NewRecordingNotifier(0)

	svc := NewInvocationService(client, &countingConfirmer{answer: false}, notes, WithWallet(w))
	result, err := svc.Invoke(context.Background(), request())

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrPaymentCancelled)
	assert.Len(t, fake.Requests(), 1)
	assert.Zero(t, w.Calls())

	last := notes.Notifications()[len(notes.Notifications())-1]
	assert.Equal(t, LevelError, last.Level)
	assert.Equal(t, "Payment cancelled.", last.Message)
}

func TestInvoke_ConfirmerErrorCancels(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge)
	w := &fakeWallet{hash: "0x1"}
	boom := errors.New("terminal closed")

	svc := NewInvocationService(client, &countingConfirmer{err: boom}, NewRecordingNotifier(0), WithWallet(w))
	_, err := svc.Invoke(context.Background(), request())

	assert.Equal(t, KindPaymentCancelled, KindOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, fake.Requests(), 1)
	assert.Zero(t, w.Calls())
}

func TestInvoke_WalletFailureSurfacesMessage(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge, success("ok", 1))
	w := &fakeWallet{err: errors.New("User rejected the request.")}
	notes := NewRecordingNotifier(0)
	pub := &recordingPublisher{}

	svc := NewInvocationService(client, &countingConfirmer{answer: true}, notes, WithWallet(w), WithEvents(pub))
	_, err := svc.Invoke(context.Background(), request())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.Contains(t, err.Error(), "User rejected the request.")
	assert.Len(t, fake.Requests(), 1)
	assert.Equal(t, []events.PaymentEventType{events.PaymentAttempt, events.PaymentFailure}, pub.Types())

	messages := notes.Messages()
	assert.Equal(t, "Payment failed: User rejected the request.", messages[len(messages)-1])
}

func TestInvoke_EmptyProofIsPaymentFailure(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge, success("ok", 1))
	svc := NewInvocationService(client, &countingConfirmer{answer: true}, NewRecordingNotifier(0), WithWallet(&fakeWallet{hash: "  "}))

	_, err := svc.Invoke(context.Background(), request())
	assert.Equal(t, KindPaymentFailed, KindOf(err))
	assert.Len(t, fake.Requests(), 1)
}

func TestInvoke_NoWallet(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge)
	confirmer := &countingConfirmer{answer: true}

	svc := NewInvocationService(client, confirmer, NewRecordingNotifier(0))
	assert.False(t, svc.HasWallet())

	_, err := svc.Invoke(context.Background(), request())
	assert.ErrorIs(t, err, ErrWalletUnavailable)
	assert.Len(t, fake.Requests(), 1)
}

func TestInvoke_SecondChallengeNotHonored(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge, challenge, success("never", 1))
	w := &fakeWallet{hash: "0xdeadbeef"}

	svc := NewInvocationService(client, &countingConfirmer{answer: true}, NewRecordingNotifier(0), WithWallet(w))
	_, err := svc.Invoke(context.Background(), request())

	assert.ErrorIs(t, err, ErrPaymentNotHonored)
	assert.Contains(t, err.Error(), "0xdeadbeef")
	assert.Len(t, fake.Requests(), 2)
	assert.Equal(t, 1, w.Calls())
}

func TestInvoke_MissingCredential(t *testing.T) {
	fake, client := newFakeMarketplace(t, success("ok", 1))
	notes := NewRecordingNotifier(0)

	svc := NewInvocationService(client, &countingConfirmer{answer: true}, notes)
	req := request()
	req.Credential = " "
	_, err := svc.Invoke(context.Background(), req)

	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Empty(t, fake.Requests())
	assert.Equal(t, []string{"Please log in first!"}, notes.Messages())
}

func TestInvoke_MalformedChallenge(t *testing.T) {
	cases := map[string]interface{}{
		"missing amount":   gin.H{"detail": gin.H{"receiver": "0xABC"}},
		"text amount":      gin.H{"detail": gin.H{"amount": "lots", "receiver": "0xABC"}},
		"zero amount":      gin.H{"detail": gin.H{"amount": 0, "receiver": "0xABC"}},
		"negative amount":  gin.H{"detail": gin.H{"amount": "-1", "receiver": "0xABC"}},
		"empty receiver":   gin.H{"detail": gin.H{"amount": 0.01, "receiver": ""}},
		"numeric receiver": gin.H{"detail": gin.H{"amount": 0.01, "receiver": 12}},
		"not json":         "<html>payment required</html>",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			fake, client := newFakeMarketplace(t, reply{http.StatusPaymentRequired, body})
			confirmer := &countingConfirmer{answer: true}
			w := &fakeWallet{hash: "0x1"}

			svc := NewInvocationService(client, confirmer, NewRecordingNotifier(0), WithWallet(w))
			_, err := svc.Invoke(context.Background(), request())

			assert.ErrorIs(t, err, ErrMalformedChallenge)
			assert.Len(t, fake.Requests(), 1)
			assert.Zero(t, confirmer.calls.Load())
			assert.Zero(t, w.Calls())
		})
	}
}

func TestInvoke_InvocationFailed(t *testing.T) {
	t.Run("service message", func(t *testing.T) {
		_, client := newFakeMarketplace(t, reply{http.StatusInternalServerError, gin.H{"detail": "Tool crashed"}})
		svc := NewInvocationService(client, nil, NewRecordingNotifier(0))

		_, err := svc.Invoke(context.Background(), request())
		assert.ErrorIs(t, err, ErrInvocationFailed)
		assert.Equal(t, "Tool crashed", err.Error())

		var apiErr *clients.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	})

	t.Run("generic message", func(t *testing.T) {
		_, client := newFakeMarketplace(t, reply{http.StatusNotFound, "not json"})
		svc := NewInvocationService(client, nil, NewRecordingNotifier(0))

		_, err := svc.Invoke(context.Background(), request())
		assert.ErrorIs(t, err, ErrInvocationFailed)
		assert.Equal(t, "Execution failed", err.Error())
	})

	t.Run("failure on retry", func(t *testing.T) {
		fake, client := newFakeMarketplace(t, challenge, reply{http.StatusBadGateway, gin.H{"detail": gin.H{"message": "upstream down"}}})
		svc := NewInvocationService(client, &countingConfirmer{answer: true}, NewRecordingNotifier(0), WithWallet(&fakeWallet{hash: "0x1"}))

		_, err := svc.Invoke(context.Background(), request())
		assert.ErrorIs(t, err, ErrInvocationFailed)
		assert.Equal(t, "upstream down", err.Error())
		assert.Len(t, fake.Requests(), 2)
	})

	t.Run("transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		client := clients.NewMarketplaceClientWithHTTP(srv.URL, "", srv.Client())
		srv.Close()

		svc := NewInvocationService(client, nil, NewRecordingNotifier(0))
		_, err := svc.Invoke(context.Background(), request())
		assert.ErrorIs(t, err, ErrInvocationFailed)
		assert.Equal(t, "Execution failed", err.Error())
	})
}

func TestInvoke_FailedStatusIsResultNotError(t *testing.T) {
	_, client := newFakeMarketplace(t, reply{http.StatusOK, gin.H{"status": "failed", "message": "bad input", "processing_time": 0.25}})
	notes := NewRecordingNotifier(0)

	svc := NewInvocationService(client, nil, notes)
	result, err := svc.Invoke(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, result.Succeeded())

	last := notes.Notifications()[len(notes.Notifications())-1]
	assert.Equal(t, LevelError, last.Level)
	assert.Equal(t, "Status: Failed | Message: bad input | Time: 0.25s", last.Message)
}

func TestInvoke_WalletAndRetryIgnoreCancellation(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge, success("ok", 1))
	w := &fakeWallet{hash: "0xfeed"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	confirmer := ConfirmerFunc(func(context.Context, string, models.PaymentRequirement) (bool, error) {
		cancel()
		return true, nil
	})

	svc := NewInvocationService(client, confirmer, NewRecordingNotifier(0), WithWallet(w))
	result, err := svc.Invoke(ctx, request())
	require.NoError(t, err)
	assert.True(t, result.Paid)

	require.Len(t, w.ctxs, 1)
	assert.NoError(t, w.ctxs[0].Err())
	assert.Len(t, fake.Requests(), 2)
}

func TestInvoke_ConcurrentClicksShareOneFlow(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge, success("ok", 1))
	w := &fakeWallet{hash: "0xbeef"}

	entered := make(chan struct{})
	release := make(chan struct{})
	var confirmations atomic.Int32
	confirmer := ConfirmerFunc(func(context.Context, string, models.PaymentRequirement) (bool, error) {
		if confirmations.Add(1) == 1 {
			close(entered)
		}
		<-release
		return true, nil
	})

	svc := NewInvocationService(client, confirmer, NewRecordingNotifier(0), WithWallet(w))

	var wg sync.WaitGroup
	results := make([]*models.InvocationResult, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = svc.Invoke(context.Background(), request())
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = svc.Invoke(context.Background(), request())
	}()
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, results[0], results[1])
	assert.EqualValues(t, 1, confirmations.Load())
	assert.Equal(t, 1, w.Calls())
	assert.Len(t, fake.Requests(), 2)
}

func TestInvoke_DifferentCredentialsRunSeparateFlows(t *testing.T) {
	fake, client := newFakeMarketplace(t, challenge, challenge, success("bob", 1), success("alice", 2))
	w := &fakeWallet{hash: "0xbeef"}

	entered := make(chan struct{})
	release := make(chan struct{})
	var confirmations atomic.Int32
	confirmer := ConfirmerFunc(func(context.Context, string, models.PaymentRequirement) (bool, error) {
		if confirmations.Add(1) == 1 {
			close(entered)
			<-release
		}
		return true, nil
	})

	svc := NewInvocationService(client, confirmer, NewRecordingNotifier(0), WithWallet(w))
	alice := models.InvocationRequest{ToolID: "tool-42", Credential: "tok_alice"}
	bob := models.InvocationRequest{ToolID: "tool-42", Credential: "tok_bob"}

	var aliceResult *models.InvocationResult
	var aliceErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		aliceResult, aliceErr = svc.Invoke(context.Background(), alice)
	}()
	<-entered

	// alice is still waiting for confirmation
	bobResult, err := svc.Invoke(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, "bob", bobResult.Message)

	close(release)
	<-done
	require.NoError(t, aliceErr)
	assert.Equal(t, "alice", aliceResult.Message)
	assert.NotSame(t, aliceResult, bobResult)

	assert.EqualValues(t, 2, confirmations.Load())
	assert.Equal(t, 2, w.Calls())

	var auth []string
	for _, r := range fake.Requests() {
		auth = append(auth, r.Auth)
	}
	assert.Equal(t, []string{"Bearer tok_alice", "Bearer tok_bob", "Bearer tok_bob", "Bearer tok_alice"}, auth)
}

func TestInvoke_JoinedCallerCanStopWaiting(t *testing.T) {
	_, client := newFakeMarketplace(t, challenge, success("ok", 1))
	w := &fakeWallet{hash: "0xbeef"}

	entered := make(chan struct{})
	release := make(chan struct{})
	confirmer := ConfirmerFunc(func(context.Context, string, models.PaymentRequirement) (bool, error) {
		close(entered)
		<-release
		return true, nil
	})

	svc := NewInvocationService(client, confirmer, NewRecordingNotifier(0), WithWallet(w))

	var first *models.InvocationResult
	var firstErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		first, firstErr = svc.Invoke(context.Background(), request())
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.Invoke(ctx, request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	require.NoError(t, firstErr)
	assert.True(t, first.Paid)
	assert.Equal(t, 1, w.Calls())
}

func TestFlightKey(t *testing.T) {
	a := flightKey(models.InvocationRequest{ToolID: "tool-42", Credential: "tok_alice"})
	b := flightKey(models.InvocationRequest{ToolID: "tool-42", Credential: "tok_bob"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, flightKey(models.InvocationRequest{ToolID: "tool-42", ToolName: "Weather", Credential: "tok_alice"}))
	assert.NotContains(t, a, "tok_alice")
}

func TestParsePaymentRequirement(t *testing.T) {
	cases := []struct {
		name string
		body string
		want models.PaymentRequirement
	}{
		{
			name: "detail object",
			body: `{"detail":{"amount":0.01,"receiver":"0xABC","currency":"ETH","message":"Payment required"}}`,
			want: models.PaymentRequirement{Amount: "0.01", Receiver: "0xABC", Currency: "ETH", Message: "Payment required"},
		},
		{
			name: "top level with string amount",
			body: `{"amount":"0.25","receiver":" 0xDEF ","currency":"POL"}`,
			want: models.PaymentRequirement{Amount: "0.25", Receiver: "0xDEF", Currency: "POL"},
		},
		{
			name: "currency defaults",
			body: `{"detail":{"amount":1e-3,"receiver":"0xABC"}}`,
			want: models.PaymentRequirement{Amount: "1e-3", Receiver: "0xABC", Currency: "ETH"},
		},
		{
			name: "string detail falls back to top level",
			body: `{"detail":"Payment required","amount":2,"receiver":"0xABC"}`,
			want: models.PaymentRequirement{Amount: "2", Receiver: "0xABC", Currency: "ETH"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePaymentRequirement([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParsePaymentRequirement([]byte(`{"detail":{"amount":null,"receiver":"0xABC"}}`))
	assert.ErrorIs(t, err, ErrMalformedChallenge)
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "Status: Success | Message: - | Time: 0.00s", FormatResult(&models.InvocationResult{Status: "SUCCESS"}))
}

var _ wallet.Provider = (*fakeWallet)(nil)
