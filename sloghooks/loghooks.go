// Package sloghooks logs cache hook events through log/slog with
// per-event sampling, so a storm of self-heals or stale commits cannot
// flood the log. Keys are redacted by default.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/nearcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery    uint64
	StaleCommitEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr    atomic.Uint64
	staleCommitCtr atomic.Uint64
}

var _ nearcache.Hooks = (*Hooks)(nil)

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
	h.l.Debug("nearcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) StaleCommitDropped(storageKey string) {
	if h.l == nil || !sample(h.opts.StaleCommitEvery, &h.staleCommitCtr) {
		return
	}
	h.l.Debug("nearcache.stale_commit_dropped",
		"key", h.redact(storageKey))
}

func (h *Hooks) StoreSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("nearcache.store_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) PartitionWriteFailed(partition int32, entries int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("nearcache.partition_write_failed",
		"partition", partition,
		"entries", entries,
		"err", err)
}
