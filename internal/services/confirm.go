package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"emcp-client/internal/config"
	"emcp-client/internal/models"
	"emcp-client/internal/wallet"

	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

// Confirmer obtains explicit user approval for a payment.
// A false result without error is a decline; context expiry counts as a decline.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, toolID string, req models.PaymentRequirement) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer
type ConfirmerFunc func(ctx context.Context, toolID string, req models.PaymentRequirement) (bool, error)

func (f ConfirmerFunc) ConfirmPayment(ctx context.Context, toolID string, req models.PaymentRequirement) (bool, error) {
	return f(ctx, toolID, req)
}

// DescribePayment one-line summary of a payment challenge
func DescribePayment(req models.PaymentRequirement) string {
	return fmt.Sprintf("%s %s to %s", req.Amount, req.Currency, req.Receiver)
}

// PromptConfirmer asks on a terminal
type PromptConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer

	// read left running by a prompt whose context ended; the next prompt receives its line
	pending chan lineResult
}

type lineResult struct {
	line string
	err  error
}

func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewReader(in), out: out}
}

func (p *PromptConfirmer) ConfirmPayment(ctx context.Context, toolID string, req models.PaymentRequirement) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n💰 Payment Required\n\nTool %s costs %s %s, payable to %s.\n", toolID, req.Amount, req.Currency, req.Receiver)
	if req.Message != "" {
		fmt.Fprintf(p.out, "%s\n", req.Message)
	}
	fmt.Fprint(p.out, "Pay now? [y/N]: ")

	answer, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// readLine reads one line, returning "" when ctx ends first.
// An interrupted read is not abandoned: the line it eventually returns answers the next prompt.
// Callers hold p.mu.
func (p *PromptConfirmer) readLine(ctx context.Context) (string, error) {
	if p.pending == nil {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := p.in.ReadString('\n')
			if err == io.EOF && line != "" {
				err = nil
			}
			ch <- lineResult{strings.TrimSpace(line), err}
		}()
		p.pending = ch
	}

	select {
	case <-ctx.Done():
		return "", nil
	case r := <-p.pending:
		p.pending = nil
		if r.err == io.EOF {
			return "", nil
		}
		return r.line, r.err
	}
}

// Prompt reads a free-form answer after printing label; used for TOTP codes
func (p *PromptConfirmer) Prompt(ctx context.Context, label string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, label)
	return p.readLine(ctx)
}

// AutoApproveConfirmer approves amounts up to Max without asking; enabling it is the user's
// standing approval for such payments. Each approval is reported through Notifier.
// Larger amounts go to Fallback, or are declined when Fallback is nil.
type AutoApproveConfirmer struct {
	Max      string
	Fallback Confirmer
	Notifier Notifier
}

func (a *AutoApproveConfirmer) ConfirmPayment(ctx context.Context, toolID string, req models.PaymentRequirement) (bool, error) {
	if a.Max != "" {
		cmp, err := wallet.CompareAmounts(req.Amount, a.Max)
		if err != nil {
			return false, fmt.Errorf("cannot compare amount with auto-approve cap: %w", err)
		}
		if cmp <= 0 {
			logrus.WithFields(logrus.Fields{
				"tool_id": toolID,
				"amount":  req.Amount,
				"cap":     a.Max,
			}).Info("✅ [Confirm] Payment auto-approved")
			if a.Notifier != nil {
				a.Notifier.Notify(ctx, Notification{
					Level:   LevelInfo,
					Message: fmt.Sprintf("Payment auto-approved (limit %s): %s", a.Max, DescribePayment(req)),
					ToolID:  toolID,
				})
			}
			return true, nil
		}
	}
	if a.Fallback != nil {
		return a.Fallback.ConfirmPayment(ctx, toolID, req)
	}
	logrus.WithFields(logrus.Fields{
		"tool_id": toolID,
		"amount":  req.Amount,
		"cap":     a.Max,
	}).Warn("⛔ [Confirm] Amount above auto-approve cap, declining")
	return false, nil
}

// CodeSource supplies a one-time code
type CodeSource func(ctx context.Context) (string, error)

// TOTPConfirmer requires a valid authenticator code after the inner confirmer approves
type TOTPConfirmer struct {
	Secret string
	Inner  Confirmer
	Code   CodeSource
}

func (c *TOTPConfirmer) ConfirmPayment(ctx context.Context, toolID string, req models.PaymentRequirement) (bool, error) {
	if c.Inner != nil {
		ok, err := c.Inner.ConfirmPayment(ctx, toolID, req)
		if err != nil || !ok {
			return ok, err
		}
	}
	if c.Code == nil {
		return false, fmt.Errorf("no TOTP code source configured")
	}

	code, err := c.Code(ctx)
	if err != nil {
		return false, err
	}
	if !ValidTOTP(c.Secret, code) {
		logrus.WithField("tool_id", toolID).Warn("⛔ [Confirm] Invalid TOTP code, declining payment")
		return false, nil
	}
	return true, nil
}

// ValidTOTP checks a six digit authenticator code against secret
func ValidTOTP(secret, code string) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	return totp.Validate(code, secret)
}

// DeclineAll declines every payment; used when no interactive surface exists
type DeclineAll struct{}

func (DeclineAll) ConfirmPayment(context.Context, string, models.PaymentRequirement) (bool, error) {
	return false, nil
}

// BuildConfirmer applies the configured confirmation policy around interactive,
// the confirmer that actually asks the user. code supplies TOTP codes in totp mode;
// notifier announces auto-approved payments.
func BuildConfirmer(cfg config.PaymentsConfig, interactive Confirmer, code CodeSource, notifier Notifier) (Confirmer, error) {
	switch strings.ToLower(cfg.ConfirmMode) {
	case "", "prompt":
		return interactive, nil
	case "auto":
		if _, err := wallet.ParseAmount(cfg.AutoApproveMax); err != nil {
			return nil, fmt.Errorf("invalid payments.autoApproveMax: %w", err)
		}
		return &AutoApproveConfirmer{Max: cfg.AutoApproveMax, Fallback: interactive, Notifier: notifier}, nil
	case "totp":
		if cfg.TOTPSecret == "" {
			return nil, fmt.Errorf("payments.totpSecret is required in totp mode")
		}
		if code == nil {
			return nil, fmt.Errorf("totp mode needs a code source")
		}
		return &TOTPConfirmer{Secret: cfg.TOTPSecret, Inner: interactive, Code: code}, nil
	case "deny":
		return DeclineAll{}, nil
	default:
		return nil, fmt.Errorf("unknown payments.confirmMode %q", cfg.ConfirmMode)
	}
}
