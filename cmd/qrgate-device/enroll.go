package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/poller"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

var errAlreadyDelivered = errors.New("device verified but the credential was delivered to an earlier poll")

// enroll starts a registration and polls until the server reports the
// device active. It never polls more often or for longer than the server
// advertised.
func enroll(ctx context.Context, c *client, phone string, info types.DeviceInfo, logger *zap.Logger) (types.VerifyStatusResponse, error) {
	reg, err := c.register(ctx, phone, info)
	if err != nil {
		return types.VerifyStatusResponse{}, fmt.Errorf("register: %w", err)
	}
	if reg.DevMode {
		logger.Info("registration started in dev mode", zap.String("verification_id", reg.VerificationID))
	} else {
		logger.Info("registration started, send an SMS to verify",
			zap.String("verification_id", reg.VerificationID),
			zap.String("inbound_number", reg.InboundNumber))
	}

	var result types.VerifyStatusResponse
	p := poller.New(poller.Config{
		Interval:         time.Duration(reg.PollIntervalSeconds) * time.Second,
		MaxAttempts:      reg.MaxPolls,
		FirstImmediately: reg.DevMode,
		OnTransition: func(from, to poller.State) {
			logger.Debug("poller", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	}, func(ctx context.Context) (bool, error) {
		st, err := c.verifyStatus(ctx, reg.VerificationID)
		if err != nil {
			if isRetryable(err) {
				return false, err
			}
			return false, poller.Permanent(err)
		}
		switch st.Status {
		case types.StatusPending:
			return false, nil
		case types.StatusActive:
			if st.DeviceTrustToken == "" {
				return false, poller.Permanent(errAlreadyDelivered)
			}
			result = st
			return true, nil
		default:
			return false, poller.Permanent(fmt.Errorf("verification %s: %s", st.Status, st.Message))
		}
	})

	if err := p.Run(ctx); err != nil {
		return types.VerifyStatusResponse{}, fmt.Errorf("verification %s after %d polls: %w", p.State(), p.Attempts(), err)
	}
	return result, nil
}

// refreshConfig controls identity token renewal.
type refreshConfig struct {
	// Margin is how long before expiry a new token is fetched.
	Margin time.Duration
	// Retries is the number of attempts per renewal.
	Retries    int
	RetryDelay time.Duration
}

// refreshIdentity keeps a current identity token available by fetching a
// new one Margin before the previous one expires. Each renewal is a
// bounded poll; show is called with every new token. It returns when ctx
// ends or a renewal fails.
func refreshIdentity(ctx context.Context, c *client, fingerprint, deviceToken string, cfg refreshConfig, show func(types.IdentityTokenResponse), logger *zap.Logger) error {
	for {
		var issued types.IdentityTokenResponse
		p := poller.New(poller.Config{
			Interval:         cfg.RetryDelay,
			MaxAttempts:      cfg.Retries,
			FirstImmediately: true,
		}, func(ctx context.Context) (bool, error) {
			tok, err := c.issueIdentity(ctx, fingerprint, deviceToken)
			if err != nil {
				if isRetryable(err) {
					return false, err
				}
				return false, poller.Permanent(err)
			}
			issued = tok
			return true, nil
		})
		if err := p.Run(ctx); err != nil {
			if p.State() == poller.Cancelled {
				return nil
			}
			return fmt.Errorf("identity refresh %s: %w", p.State(), err)
		}
		show(issued)

		wait := time.Duration(issued.TTLSeconds)*time.Second - cfg.Margin
		if wait < time.Second {
			wait = time.Second
		}
		logger.Debug("identity token issued",
			zap.String("expires_at", issued.ExpiresAt),
			zap.Duration("next_refresh_in", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
