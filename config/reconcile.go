package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ReconcileConfig carries the engine tuning knobs. Everything here is
// operator-tunable via env so thresholds can be adjusted per deployment
// without a redeploy of logic.
type ReconcileConfig struct {
	// FuzzyMinSimilarity is the minimum account-name similarity accepted by the
	// fuzzy matcher (0..1).
	FuzzyMinSimilarity float64
	// FuzzyMaxAmountPct is the maximum relative amount difference accepted by
	// the fuzzy matcher, as a fraction (0.02 = 2%).
	FuzzyMaxAmountPct decimal.Decimal
	// ExactAmountTolerance is the cent-level tolerance of the exact matcher.
	ExactAmountTolerance decimal.Decimal

	// AnomalyWindow is the trailing period count for baseline mean/stddev.
	AnomalyWindow int
	// AnomalyMinHistory is the minimum history length for z-scoring; shorter
	// series fall back to percentage-change-from-prior.
	AnomalyMinHistory int

	// MaxRunDuration force-fails sessions that run longer than this.
	MaxRunDuration time.Duration
	// LockTTL is the redis lease TTL for a run (refreshed between stages).
	LockTTL time.Duration
	// OrphanTimeout is how long a RUNNING session may sit without completing
	// before the cleanup sweep marks it FAILED.
	OrphanTimeout time.Duration
}

var (
	reconcileCfg     ReconcileConfig
	reconcileCfgOnce sync.Once
)

func ReconcileSettings() ReconcileConfig {
	reconcileCfgOnce.Do(func() {
		reconcileCfg = ReconcileConfig{
			FuzzyMinSimilarity:   floatFromEnv("RECON_FUZZY_MIN_SIMILARITY", 0.85),
			FuzzyMaxAmountPct:    decimalFromEnv("RECON_FUZZY_MAX_AMOUNT_PCT", "0.02"),
			ExactAmountTolerance: decimalFromEnv("RECON_EXACT_AMOUNT_TOLERANCE", "0.01"),
			AnomalyWindow:        intFromEnv("RECON_ANOMALY_WINDOW", 12),
			AnomalyMinHistory:    intFromEnv("RECON_ANOMALY_MIN_HISTORY", 3),
			MaxRunDuration:       time.Duration(intFromEnv("RECON_MAX_RUN_SECONDS", 120)) * time.Second,
			LockTTL:              time.Duration(intFromEnv("RECON_LOCK_TTL_SECONDS", 30)) * time.Second,
			OrphanTimeout:        time.Duration(intFromEnv("RECON_ORPHAN_TIMEOUT_SECONDS", 600)) * time.Second,
		}
	})
	return reconcileCfg
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func decimalFromEnv(key string, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}
