// Package service contains the backend's business logic above the repositories.
package service

import (
	"context"
	"crypto/subtle"

	"go.uber.org/zap"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/limiter"
)

// KeyChecker verifies the shared API key with a per-address lockout.
type KeyChecker interface {
	// Check returns nil for the right key, errs.ErrUnauthorized for a wrong
	// one and errs.ErrRateLimited while the address is locked out.
	Check(ctx context.Context, key, ip string) error
}

type KeyCheckerImpl struct {
	key []byte
	lim limiter.Limiter
	log *zap.Logger
}

// NewKeyChecker constructs a KeyChecker for the configured key.
func NewKeyChecker(key string, lim limiter.Limiter, log *zap.Logger) *KeyCheckerImpl {
	return &KeyCheckerImpl{key: []byte(key), lim: lim, log: log}
}

// Check applies the lockout before comparing keys in constant time.
func (k *KeyCheckerImpl) Check(ctx context.Context, key, ip string) error {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := k.lim.Allow(ctx, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.ErrRateLimited
	}

	if key == "" || subtle.ConstantTimeCompare([]byte(key), k.key) != 1 {
		blocked, dur, ferr := k.lim.Failure(ctx, ipHash)
		if ferr != nil {
			k.log.Warn("record key failure", zap.Error(ferr))
		}
		if blocked {
			k.log.Warn("address locked out", zap.Duration("for", dur))
			return errs.ErrRateLimited
		}
		return errs.ErrUnauthorized
	}

	if err := k.lim.Success(ctx, ipHash); err != nil {
		k.log.Warn("reset key failures", zap.Error(err))
	}
	return nil
}
