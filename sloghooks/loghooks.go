// Package sloghooks reports fetchcache hook events through log/slog.
package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/fetchcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	LockWaitEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	lockWaitCtr atomic.Uint64
}

var _ fetchcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("fetchcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) LockEvicted(lockKey, reason string) {
	if h.l == nil {
		return
	}
	h.l.Info("fetchcache.lock_evicted",
		"key", h.redact(lockKey),
		"reason", reason)
}

func (h *Hooks) LockWait(key string, cleared bool, waited time.Duration) {
	if h.l == nil || !sample(h.opts.LockWaitEvery, &h.lockWaitCtr) {
		return
	}
	level := slog.LevelDebug
	if !cleared {
		level = slog.LevelWarn
	}
	h.l.Log(context.Background(), level, "fetchcache.lock_wait",
		"key", h.redact(key),
		"cleared", cleared,
		"waited", waited)
}

func (h *Hooks) FetchFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("fetchcache.fetch_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) StoreError(op, storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("fetchcache.store_error",
		"op", op,
		"key", h.redact(storageKey),
		"err", err)
}
