package risk

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"ubipay/pkg/cache"
	"ubipay/pkg/errors"
)

type BlacklistKind string

const (
	BlacklistIP     BlacklistKind = "ip"
	BlacklistDevice BlacklistKind = "device"
)

type blacklistEntry struct {
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func blacklistKey(kind BlacklistKind, value string) string {
	return fmt.Sprintf("blacklist:%s:%s", kind, value)
}

// BlacklistIP blocks ip for ttl, or the configured default when ttl is zero.
func (e *Engine) BlacklistIP(ctx context.Context, ip string, ttl time.Duration, reason string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: invalid ip address %q", errors.ErrInvalidRequest, ip)
	}
	return e.blacklist(ctx, BlacklistIP, ip, ttl, reason)
}

func (e *Engine) BlacklistDevice(ctx context.Context, deviceID string, ttl time.Duration, reason string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device id is empty", errors.ErrInvalidRequest)
	}
	return e.blacklist(ctx, BlacklistDevice, deviceID, ttl, reason)
}

func (e *Engine) blacklist(ctx context.Context, kind BlacklistKind, value string, ttl time.Duration, reason string) error {
	if ttl <= 0 {
		ttl = e.cfg.BlacklistTTL
	}
	entry := blacklistEntry{Reason: reason, CreatedAt: e.now().UTC()}
	if err := e.cache.Set(ctx, blacklistKey(kind, value), entry, ttl); err != nil {
		return errors.Wrap(err, "failed to write blacklist entry")
	}
	e.logger.Warn("Blacklist entry added", map[string]interface{}{
		"kind":   kind,
		"value":  value,
		"ttl":    ttl.String(),
		"reason": reason,
	})
	return nil
}

func (e *Engine) IsIPBlacklisted(ctx context.Context, ip string) (bool, error) {
	return e.cache.Exists(ctx, blacklistKey(BlacklistIP, ip))
}

func (e *Engine) IsDeviceBlacklisted(ctx context.Context, deviceID string) (bool, error) {
	return e.cache.Exists(ctx, blacklistKey(BlacklistDevice, deviceID))
}

func (e *Engine) RemoveFromBlacklist(ctx context.Context, kind BlacklistKind, value string) error {
	if err := e.cache.Delete(ctx, blacklistKey(kind, value)); err != nil {
		return errors.Wrap(err, "failed to remove blacklist entry")
	}
	e.logger.Info("Blacklist entry removed", map[string]interface{}{"kind": kind, "value": value})
	return nil
}

// checkBlacklist reports a hit on either signal with a reason for audit.
func (e *Engine) checkBlacklist(ctx context.Context, ip, deviceID string) (bool, string, error) {
	if ip != "" {
		hit, reason, err := e.lookupBlacklist(ctx, BlacklistIP, ip)
		if err != nil || hit {
			return hit, reason, err
		}
	}
	if deviceID != "" {
		return e.lookupBlacklist(ctx, BlacklistDevice, deviceID)
	}
	return false, "", nil
}

func (e *Engine) lookupBlacklist(ctx context.Context, kind BlacklistKind, value string) (bool, string, error) {
	var entry blacklistEntry
	err := e.cache.Get(ctx, blacklistKey(kind, value), &entry)
	switch {
	case err == nil:
		reason := fmt.Sprintf("%s %s is blacklisted", kind, value)
		if entry.Reason != "" {
			reason += ": " + entry.Reason
		}
		return true, reason, nil
	case errors.Is(err, cache.ErrCacheMiss):
		return false, "", nil
	default:
		return false, "", err
	}
}
