package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"emcp-client/internal/clients"
	"emcp-client/internal/events"
	"emcp-client/internal/metrics"
	"emcp-client/internal/models"
	"emcp-client/internal/wallet"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// InvocationClient sends a single invocation request and returns the raw status and body
type InvocationClient interface {
	UseTool(ctx context.Context, toolID, token string, proof *models.PaymentProof) (int, []byte, error)
}

// InvocationService runs tools on the marketplace, paying for them when the service answers 402.
// At most one flow per tool id and credential is in flight; concurrent callers with the same
// tool and credential share its outcome. Different credentials never share a flow.
type InvocationService struct {
	client    InvocationClient
	wallet    wallet.Provider
	confirmer Confirmer
	notifier  Notifier
	events    events.Publisher

	flights singleflight.Group
}

// InvocationOption configures an InvocationService
type InvocationOption func(*InvocationService)

// WithWallet sets the payment capability. Without one, paid tools fail with WalletUnavailable.
func WithWallet(p wallet.Provider) InvocationOption {
	return func(s *InvocationService) { s.wallet = p }
}

// WithEvents publishes payment lifecycle events
func WithEvents(p events.Publisher) InvocationOption {
	return func(s *InvocationService) { s.events = p }
}

func NewInvocationService(client InvocationClient, confirmer Confirmer, notifier Notifier, opts ...InvocationOption) *InvocationService {
	if confirmer == nil {
		confirmer = DeclineAll{}
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	s := &InvocationService{
		client:    client,
		confirmer: confirmer,
		notifier:  notifier,
		events:    events.NoopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasWallet reports whether a payment capability is configured
func (s *InvocationService) HasWallet() bool {
	return s.wallet != nil
}

// Invoke runs req.ToolID with req.Credential. A 402 challenge is shown to the user, paid through
// the wallet once confirmed, and the call is retried exactly once with the transaction hash.
// Every terminal failure is a *FlowError and has already been reported to the notifier.
// A caller joining an identical in-flight invocation returns ctx.Err() if ctx ends first.
func (s *InvocationService) Invoke(ctx context.Context, req models.InvocationRequest) (*models.InvocationResult, error) {
	if strings.TrimSpace(req.Credential) == "" {
		return nil, s.fail(ctx, req, time.Now(), false, ErrMissingCredential)
	}
	if strings.TrimSpace(req.ToolID) == "" {
		return nil, s.fail(ctx, req, time.Now(), false, newFlowError(KindInvocationFailed, nil, "tool id is required"))
	}

	started := make(chan struct{})
	ch := s.flights.DoChan(flightKey(req), func() (interface{}, error) {
		close(started)
		return s.run(ctx, req)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		select {
		case <-started:
			// this caller's flow is running; once paid it finishes regardless of ctx
			res = <-ch
		default:
			logrus.WithField("tool_id", req.ToolID).Debug("🔁 [Invocation] Stopped waiting for in-flight invocation")
			return nil, ctx.Err()
		}
	}
	if res.Shared {
		logrus.WithField("tool_id", req.ToolID).Debug("🔁 [Invocation] Joined in-flight invocation")
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.(*models.InvocationResult), nil
}

// flightKey identifies one credential's invocation of one tool
func flightKey(req models.InvocationRequest) string {
	sum := sha256.Sum256([]byte(req.Credential))
	return req.ToolID + "\x00" + hex.EncodeToString(sum[:])
}

func (s *InvocationService) run(ctx context.Context, req models.InvocationRequest) (*models.InvocationResult, error) {
	start := time.Now()
	s.notify(ctx, req, LevelInfo, fmt.Sprintf("Running %s...", req.DisplayName()))

	logrus.WithField("tool_id", req.ToolID).Info("🚀 [Invocation] Invoking tool")

	status, body, err := s.client.UseTool(ctx, req.ToolID, req.Credential, nil)
	if err != nil {
		return nil, s.fail(ctx, req, start, false, newFlowError(KindInvocationFailed, err, "%s", clients.GenericFailureMessage))
	}
	if status != http.StatusPaymentRequired {
		result, ferr := interpretResponse(status, body)
		if ferr != nil {
			return nil, s.fail(ctx, req, start, false, ferr)
		}
		return s.finish(ctx, req, start, result), nil
	}

	metrics.PaymentChallenges.Inc()

	requirement, err := ParsePaymentRequirement(body)
	if err != nil {
		var ferr *FlowError
		if !errors.As(err, &ferr) {
			ferr = newFlowError(KindMalformedChallenge, err, "%s", ErrMalformedChallenge.Message)
		}
		return nil, s.fail(ctx, req, start, false, ferr)
	}

	logrus.WithFields(logrus.Fields{
		"tool_id":  req.ToolID,
		"amount":   requirement.Amount,
		"currency": requirement.Currency,
		"receiver": requirement.Receiver,
	}).Info("💰 [Invocation] Payment challenge received")
	s.notify(ctx, req, LevelInfo, "Payment required: "+DescribePayment(requirement))

	approved, err := s.confirmer.ConfirmPayment(ctx, req.ToolID, requirement)
	switch {
	case err != nil:
		metrics.PaymentConfirmations.WithLabelValues("error").Inc()
		return nil, s.fail(ctx, req, start, false, newFlowError(KindPaymentCancelled, err, "%s", ErrPaymentCancelled.Message))
	case !approved:
		metrics.PaymentConfirmations.WithLabelValues("declined").Inc()
		return nil, s.fail(ctx, req, start, false, ErrPaymentCancelled)
	}
	metrics.PaymentConfirmations.WithLabelValues("approved").Inc()

	if s.wallet == nil {
		return nil, s.fail(ctx, req, start, false, ErrWalletUnavailable)
	}

	// the wallet call and the retry are not cancellable by this flow once issued
	payCtx := context.WithoutCancel(ctx)

	s.notify(ctx, req, LevelInfo, "Opening wallet...")
	s.publish(payCtx, events.PaymentEvent{Type: events.PaymentAttempt, ToolID: req.ToolID, Amount: requirement.Amount, Currency: requirement.Currency, Receiver: requirement.Receiver})

	payStart := time.Now()
	proof, err := s.wallet.Pay(payCtx, requirement)
	if err == nil && proof.Empty() {
		err = fmt.Errorf("wallet returned no transaction identifier")
	}
	if err != nil {
		ferr := newFlowError(KindPaymentFailed, err, "Payment failed: %s", err.Error())
		s.publish(payCtx, events.PaymentEvent{
			Type:      events.PaymentFailure,
			ToolID:    req.ToolID,
			Amount:    requirement.Amount,
			Currency:  requirement.Currency,
			Receiver:  requirement.Receiver,
			Error:     err.Error(),
			ErrorKind: string(KindPaymentFailed),
			Duration:  time.Since(payStart),
		})
		return nil, s.fail(ctx, req, start, false, ferr)
	}

	s.publish(payCtx, events.PaymentEvent{
		Type:        events.PaymentSuccess,
		ToolID:      req.ToolID,
		Amount:      requirement.Amount,
		Currency:    requirement.Currency,
		Receiver:    requirement.Receiver,
		Transaction: proof.TransactionHash,
		Duration:    time.Since(payStart),
	})

	logrus.WithFields(logrus.Fields{
		"tool_id": req.ToolID,
		"tx":      proof.TransactionHash,
	}).Info("✅ [Invocation] Payment sent, retrying with proof")
	s.notify(ctx, req, LevelSuccess, "Payment sent! Verifying...")

	status, body, err = s.client.UseTool(payCtx, req.ToolID, req.Credential, &proof)
	if err != nil {
		return nil, s.fail(ctx, req, start, true, newFlowError(KindInvocationFailed, err, "%s", clients.GenericFailureMessage))
	}
	if status == http.StatusPaymentRequired {
		logrus.WithFields(logrus.Fields{
			"tool_id": req.ToolID,
			"tx":      proof.TransactionHash,
		}).Warn("⚠️ [Invocation] Service re-issued payment challenge after proof")
		return nil, s.fail(ctx, req, start, true, newFlowError(KindPaymentNotHonored, nil,
			"%s (transaction %s)", ErrPaymentNotHonored.Message, proof.TransactionHash))
	}

	result, ferr := interpretResponse(status, body)
	if ferr != nil {
		return nil, s.fail(ctx, req, start, true, ferr)
	}
	result.Paid = true
	result.Transaction = proof.TransactionHash
	return s.finish(ctx, req, start, result), nil
}

// interpretResponse maps a non-402 response onto a result or InvocationFailed
func interpretResponse(status int, body []byte) (*models.InvocationResult, *FlowError) {
	if status < 200 || status >= 300 {
		return nil, newFlowError(KindInvocationFailed, &clients.APIError{StatusCode: status, Detail: clients.DetailMessage(body)},
			"%s", clients.DetailMessage(body))
	}

	var result models.InvocationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, newFlowError(KindInvocationFailed, err, "%s", clients.GenericFailureMessage)
	}
	return &result, nil
}

// FormatResult user-facing summary of a result
func FormatResult(result *models.InvocationResult) string {
	status := "Failed"
	if result.Succeeded() {
		status = "Success"
	}
	message := result.Message
	if message == "" {
		message = "-"
	}
	return fmt.Sprintf("Status: %s | Message: %s | Time: %.2fs", status, message, result.ProcessingTime)
}

func (s *InvocationService) finish(ctx context.Context, req models.InvocationRequest, start time.Time, result *models.InvocationResult) *models.InvocationResult {
	level := LevelError
	outcome := "failed"
	if result.Succeeded() {
		level = LevelSuccess
		outcome = "success"
	}
	metrics.InvocationsTotal.WithLabelValues(outcome).Inc()
	metrics.InvocationDuration.WithLabelValues(strconv.FormatBool(result.Paid)).Observe(time.Since(start).Seconds())

	logrus.WithFields(logrus.Fields{
		"tool_id":         req.ToolID,
		"status":          result.Status,
		"paid":            result.Paid,
		"processing_time": result.ProcessingTime,
	}).Info("🏁 [Invocation] Invocation finished")

	s.notify(ctx, req, level, FormatResult(result))
	return result
}

func (s *InvocationService) fail(ctx context.Context, req models.InvocationRequest, start time.Time, paid bool, ferr *FlowError) error {
	metrics.InvocationsTotal.WithLabelValues(string(ferr.Kind)).Inc()
	metrics.InvocationDuration.WithLabelValues(strconv.FormatBool(paid)).Observe(time.Since(start).Seconds())

	entry := logrus.WithFields(logrus.Fields{
		"tool_id": req.ToolID,
		"kind":    ferr.Kind,
	})
	if ferr.Err != nil {
		entry = entry.WithError(ferr.Err)
	}
	entry.Warn("❌ [Invocation] Invocation ended: " + ferr.Message)

	s.notify(ctx, req, LevelError, ferr.Message)
	return ferr
}

func (s *InvocationService) notify(ctx context.Context, req models.InvocationRequest, level NotificationLevel, message string) {
	s.notifier.Notify(ctx, Notification{Level: level, Message: message, ToolID: req.ToolID})
}

func (s *InvocationService) publish(ctx context.Context, event events.PaymentEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithField("tool_id", event.ToolID).Warn("⚠️ [Invocation] Failed to publish payment event")
	}
}

// ParsePaymentRequirement reads the terms of a 402 body. Terms are taken from "detail" when it is
// an object, otherwise from the top level. Amount may be a JSON number or a decimal string.
func ParsePaymentRequirement(body []byte) (models.PaymentRequirement, error) {
	var requirement models.PaymentRequirement

	terms := bytes.TrimSpace(body)
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(terms, &envelope); err != nil {
		return requirement, newFlowError(KindMalformedChallenge, err, "%s: response is not JSON", ErrMalformedChallenge.Message)
	}
	if detail := bytes.TrimSpace(envelope.Detail); len(detail) > 0 && detail[0] == '{' {
		terms = detail
	}

	var fields struct {
		Amount   json.RawMessage `json:"amount"`
		Receiver interface{}     `json:"receiver"`
		Currency string          `json:"currency"`
		Message  string          `json:"message"`
	}
	if err := json.Unmarshal(terms, &fields); err != nil {
		return requirement, newFlowError(KindMalformedChallenge, err, "%s: %v", ErrMalformedChallenge.Message, err)
	}

	amount, err := decodeAmount(fields.Amount)
	if err != nil {
		return requirement, newFlowError(KindMalformedChallenge, err, "%s: %v", ErrMalformedChallenge.Message, err)
	}
	receiver, _ := fields.Receiver.(string)
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return requirement, newFlowError(KindMalformedChallenge, nil, "%s: receiver is missing", ErrMalformedChallenge.Message)
	}

	requirement.Amount = amount
	requirement.Receiver = receiver
	requirement.Currency = strings.TrimSpace(fields.Currency)
	if requirement.Currency == "" {
		requirement.Currency = models.DefaultCurrency
	}
	requirement.Message = fields.Message
	return requirement, nil
}

func decodeAmount(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("amount is missing")
	}

	amount := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &amount); err != nil {
			return "", fmt.Errorf("amount is not a string or number")
		}
		amount = strings.TrimSpace(amount)
		if amount == "" {
			return "", fmt.Errorf("amount is missing")
		}
	}
	if _, err := wallet.ParseAmount(amount); err != nil {
		return "", err
	}
	return amount, nil
}
