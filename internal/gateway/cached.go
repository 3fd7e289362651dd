package gateway

import (
	"context"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/sirupsen/logrus"
)

type ResultCache interface {
	GetVerification(ctx context.Context, reference string) (*Result, error)
	SetVerification(ctx context.Context, reference string, result Result) error
}

// CachedVerifier remembers settled verification answers. Pending and unknown
// results are always fetched again. Cache failures only cost a gateway call.
type CachedVerifier struct {
	next  Verifier
	cache ResultCache
	log   logrus.FieldLogger
}

func NewCachedVerifier(next Verifier, cache ResultCache, log logrus.FieldLogger) *CachedVerifier {
	return &CachedVerifier{next: next, cache: cache, log: log}
}

func (v *CachedVerifier) VerifyCharge(ctx context.Context, reference string) (Result, error) {
	cached, err := v.cache.GetVerification(ctx, reference)
	if err != nil {
		v.log.WithError(err).WithField("reference", reference).Warn("verification cache read failed")
	} else if cached != nil {
		return *cached, nil
	}

	res, err := v.next.VerifyCharge(ctx, reference)
	if err != nil {
		return Result{}, err
	}
	if res.Verified && res.Outcome != domain.ChargePending {
		if err := v.cache.SetVerification(ctx, reference, res); err != nil {
			v.log.WithError(err).WithField("reference", reference).Warn("verification cache write failed")
		}
	}
	return res, nil
}

var _ Verifier = (*CachedVerifier)(nil)
