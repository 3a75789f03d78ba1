package webhook

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotConfigured    = errors.New("webhook not configured")
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrRedeployFailed   = errors.New("redeploy failed")
)

// Redeployer synchronizes content from the source repository and schedules
// a restart. Implemented by redeploy.Git.
type Redeployer interface {
	Redeploy(ctx context.Context) error
}

// RedeployError wraps a redeploy failure after the signature was accepted
type RedeployError struct {
	Err error
}

func (e *RedeployError) Error() string {
	return fmt.Sprintf("%s: %v", ErrRedeployFailed, e.Err)
}

func (e *RedeployError) Unwrap() []error {
	return []error{ErrRedeployFailed, e.Err}
}

// Trigger verifies webhook deliveries and hands verified ones to a Redeployer
type Trigger struct {
	Secret     string
	Redeployer Redeployer
}

// NewTrigger creates a trigger. A nil redeployer or empty secret leaves the
// endpoint unconfigured.
func NewTrigger(secret string, redeployer Redeployer) *Trigger {
	return &Trigger{
		Secret:     secret,
		Redeployer: redeployer,
	}
}

// Configured reports whether deliveries can be accepted at all
func (t *Trigger) Configured() bool {
	return t != nil && t.Secret != "" && t.Redeployer != nil
}

// VerifyAndTrigger authenticates body against the signature header and, on
// success, runs the redeploy. The Redeployer is never called for a delivery
// that fails verification.
func (t *Trigger) VerifyAndTrigger(ctx context.Context, body []byte, signature string) error {
	if !t.Configured() {
		return ErrNotConfigured
	}

	if err := VerifySignature(body, signature, t.Secret); err != nil {
		return err
	}

	if err := t.Redeployer.Redeploy(ctx); err != nil {
		return &RedeployError{Err: err}
	}

	return nil
}
