package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/mifi/in-app-subscription-example/internal/models"
)

// ErrReceiptRejected marks a validator answer about the receipt itself, as
// opposed to the validator being unreachable.
var ErrReceiptRejected = errors.New("receipt rejected")

// Validator turns a raw receipt into a validation result for the given platform.
type Validator interface {
	Validate(ctx context.Context, app models.AppType, receipt models.Receipt) (models.ValidationResult, error)
}

// PlatformValidator is one store's validation capability.
type PlatformValidator interface {
	Validate(ctx context.Context, receipt models.Receipt) (models.ValidationResult, error)
}

// Acknowledger confirms Google Play subscription purchases.
type Acknowledger interface {
	AcknowledgeSubscription(ctx context.Context, packageName, subscriptionID, token string) error
}

// Logger provides minimal logging required by the services.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const (
	defaultValidatorTimeout = 30 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerOpenFor   = time.Minute
)

type ReceiptValidatorConfig struct {
	// Timeout bounds each validator call.
	Timeout time.Duration
	// FailureThreshold consecutive transport failures open a platform's breaker.
	FailureThreshold uint32
	// OpenTimeout is how long an open breaker rejects calls before probing again.
	OpenTimeout time.Duration
}

// ReceiptValidator routes receipts to the store validator of their platform,
// each behind its own circuit breaker.
type ReceiptValidator struct {
	validators map[models.AppType]PlatformValidator
	breakers   map[models.AppType]*gobreaker.CircuitBreaker[models.ValidationResult]
	timeout    time.Duration
}

// NewReceiptValidator wires the platform validators. A nil validator leaves that platform unsupported.
func NewReceiptValidator(apple, google PlatformValidator, cfg ReceiptValidatorConfig, logger Logger) *ReceiptValidator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultValidatorTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultBreakerFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultBreakerOpenFor
	}

	v := &ReceiptValidator{
		validators: map[models.AppType]PlatformValidator{},
		breakers:   map[models.AppType]*gobreaker.CircuitBreaker[models.ValidationResult]{},
		timeout:    cfg.Timeout,
	}
	for app, pv := range map[models.AppType]PlatformValidator{models.AppIOS: apple, models.AppAndroid: google} {
		if pv == nil {
			continue
		}
		v.validators[app] = pv
		v.breakers[app] = gobreaker.NewCircuitBreaker[models.ValidationResult](gobreaker.Settings{
			Name:        app.Service() + "-validator",
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			// a rejected receipt means the validator answered; a caller that
			// went away says nothing about the validator
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrReceiptRejected) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if logger != nil {
					logger.Infof("circuit breaker %s: %s -> %s", name, from, to)
				}
			},
		})
	}
	return v
}

func (v *ReceiptValidator) Validate(ctx context.Context, app models.AppType, receipt models.Receipt) (models.ValidationResult, error) {
	pv, ok := v.validators[app]
	if !ok {
		return models.ValidationResult{}, fmt.Errorf("no validator configured for %q", app)
	}
	if err := ctx.Err(); err != nil {
		return models.ValidationResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	res, err := v.breakers[app].Execute(func() (models.ValidationResult, error) {
		return pv.Validate(callCtx, receipt)
	})
	if err != nil {
		return models.ValidationResult{}, err
	}
	return res, nil
}
