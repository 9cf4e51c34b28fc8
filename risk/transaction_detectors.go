package risk

import (
	"context"
	"time"

	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/shopspring/decimal"
)

const (
	velocityWindow = 15 * time.Minute
	averageWindow  = 30 * 24 * time.Hour
)

const (
	LabelLargeTransaction = "Large transaction"
	LabelUnusualSize      = "Unusual transaction size"
	LabelVelocity         = "Transaction velocity exceeded"
)

// thresholdMinor converts a configured major-unit threshold to minor
// units for comparison against stored amounts.
func thresholdMinor(major float64) int64 {
	return model.ToMinorUnits(decimal.NewFromFloat(major))
}

// largeTransactionDetector fires when a single transfer meets the
// configured absolute threshold. No history lookup, no dedup: every
// qualifying transfer is its own incident.
type largeTransactionDetector struct {
	threshold int64
}

func newLargeTransactionDetector(conf config.RiskConfig) *largeTransactionDetector {
	return &largeTransactionDetector{threshold: thresholdMinor(conf.LargeTransactionThreshold)}
}

func (d *largeTransactionDetector) Name() string { return "large_transaction" }

func (d *largeTransactionDetector) Evaluate(_ context.Context, event Event) ([]*model.Incident, error) {
	txn := event.Transaction
	if txn == nil || txn.Amount < d.threshold {
		return nil, nil
	}
	return []*model.Incident{{
		UserID:   txn.Sender,
		Label:    LabelLargeTransaction,
		Severity: model.SeverityMedium,
		Details: map[string]interface{}{
			"transaction_id": txn.TransactionID,
			"amount":         model.FormatAmount(txn.Amount),
			"threshold":      model.FormatAmount(d.threshold),
		},
	}}, nil
}

// unusualSizeDetector fires when a transfer is at least the configured
// multiple of the sender's trailing 30-day average. Senders with no
// history in the window never match.
type unusualSizeDetector struct {
	store      Store
	multiplier int64
}

func newUnusualSizeDetector(store Store, conf config.RiskConfig) *unusualSizeDetector {
	return &unusualSizeDetector{store: store, multiplier: int64(conf.UnusualSizeMultiplier)}
}

func (d *unusualSizeDetector) Name() string { return "unusual_transaction_size" }

func (d *unusualSizeDetector) Evaluate(ctx context.Context, event Event) ([]*model.Incident, error) {
	txn := event.Transaction
	if txn == nil {
		return nil, nil
	}
	average, err := d.store.GetSenderAverageAmount(ctx, txn.Sender, txn.TransactionID, txn.CreatedAt.Add(-averageWindow))
	if err != nil {
		return nil, err
	}
	if average <= 0 || txn.Amount < d.multiplier*average {
		return nil, nil
	}
	return []*model.Incident{{
		UserID:   txn.Sender,
		Label:    LabelUnusualSize,
		Severity: model.SeverityMedium,
		Details: map[string]interface{}{
			"transaction_id": txn.TransactionID,
			"amount":         model.FormatAmount(txn.Amount),
			"average_amount": model.FormatAmount(average),
		},
	}}, nil
}

// velocityDetector fires when the sender's trailing 15-minute activity
// reaches the configured count or total. The window stats include the
// triggering transfer. One incident per (sender, window).
type velocityDetector struct {
	store      Store
	countLimit int
	totalLimit int64
}

func newVelocityDetector(store Store, conf config.RiskConfig) *velocityDetector {
	return &velocityDetector{
		store:      store,
		countLimit: conf.VelocityCount,
		totalLimit: thresholdMinor(conf.VelocityTotal),
	}
}

func (d *velocityDetector) Name() string { return "transaction_velocity" }

func (d *velocityDetector) Evaluate(ctx context.Context, event Event) ([]*model.Incident, error) {
	txn := event.Transaction
	if txn == nil {
		return nil, nil
	}
	since := txn.CreatedAt.Add(-velocityWindow)
	count, total, err := d.store.GetSenderWindowStats(ctx, txn.Sender, since)
	if err != nil {
		return nil, err
	}
	if count < d.countLimit && total < d.totalLimit {
		return nil, nil
	}

	exists, err := d.store.IncidentExists(ctx, LabelVelocity, txn.Sender, since)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	return []*model.Incident{{
		UserID:   txn.Sender,
		Label:    LabelVelocity,
		Severity: model.SeverityHigh,
		DedupKey: txn.Sender,
		Details: map[string]interface{}{
			"window_count": count,
			"window_total": model.FormatAmount(total),
		},
	}}, nil
}
