package authstate

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-featuregate/gate/guard"
)

// Feature keys checked before delegating to the provider.
const (
	FeaturePasswordless = "auth.passwordless"
	FeatureAnonymous    = "auth.anonymous"
	FeatureGoogle       = "auth.google"
	FeaturePassword     = "auth.password"
)

func normalizeFeatureGateError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return err
	}

	return errors.Wrap(err, errors.CategoryAuthz, "Feature gate check failed").
		WithCode(errors.CodeForbidden)
}

func requireFeatureGate(ctx context.Context, featureGate gate.FeatureGate, key string) error {
	if featureGate == nil || key == "" {
		return nil
	}
	return guard.Require(ctx, featureGate, key,
		guard.WithDisabledError(ErrFeatureDisabled),
		guard.WithErrorMapper(normalizeFeatureGateError),
	)
}
