package maintenance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/models"
	"github.com/charlesng35/mailbridge/pkg/metrics"
)

// CounterStats reports how many counter cache rows reconciliation corrected.
type CounterStats struct {
	Partners  int
	Providers int
}

// Repaired returns the total number of corrected rows.
func (s CounterStats) Repaired() int {
	return s.Partners + s.Providers
}

type counterRow struct {
	ID                      string
	PartnerConnectionsCount int64
}

type groupCount struct {
	GroupKey string
	Total    int64
}

// ReconcileCounters recomputes partners.partner_connections_count and
// imap_providers.partner_connections_count from the partner_connections table and
// refreshes the per-mechanism connection gauge.
func ReconcileCounters(ctx context.Context, db *gorm.DB) (CounterStats, error) {
	if db == nil {
		return CounterStats{}, errors.New("reconcile counters: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		stats CounterStats
		errs  error
	)

	partners, err := reconcileTable(ctx, db, &models.Partner{}, "partner_id")
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("reconcile counters: partners: %w", err))
	}
	stats.Partners = partners

	providers, err := reconcileTable(ctx, db, &models.ImapProvider{}, "imap_provider_id")
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("reconcile counters: imap providers: %w", err))
	}
	stats.Providers = providers

	if err := refreshConnectionGauge(ctx, db); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("reconcile counters: gauge: %w", err))
	}

	return stats, errs
}

func reconcileTable(ctx context.Context, db *gorm.DB, model any, foreignKey string) (int, error) {
	var counts []groupCount
	if err := db.WithContext(ctx).Model(&models.PartnerConnection{}).
		Select(foreignKey + " AS group_key, COUNT(*) AS total").
		Group(foreignKey).
		Scan(&counts).Error; err != nil {
		return 0, err
	}
	actual := make(map[string]int64, len(counts))
	for _, row := range counts {
		actual[row.GroupKey] = row.Total
	}

	var rows []counterRow
	if err := db.WithContext(ctx).Model(model).
		Select("id", "partner_connections_count").
		Scan(&rows).Error; err != nil {
		return 0, err
	}

	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return 0, err
	}
	table := stmt.Schema.Table

	repaired := 0
	for _, row := range rows {
		want := actual[row.ID]
		if row.PartnerConnectionsCount == want {
			continue
		}
		if err := db.WithContext(ctx).Model(model).
			Where("id = ?", row.ID).
			UpdateColumn("partner_connections_count", want).Error; err != nil {
			return repaired, err
		}
		metrics.CounterDrift.WithLabelValues(table).Inc()
		repaired++
	}
	return repaired, nil
}

func refreshConnectionGauge(ctx context.Context, db *gorm.DB) error {
	var counts []groupCount
	if err := db.WithContext(ctx).Model(&models.PartnerConnection{}).
		Select("imap_providers.auth_mechanism AS group_key, COUNT(*) AS total").
		Joins("JOIN imap_providers ON imap_providers.id = partner_connections.imap_provider_id").
		Group("imap_providers.auth_mechanism").
		Scan(&counts).Error; err != nil {
		return err
	}

	byMechanism := make(map[string]int64, len(counts))
	for _, row := range counts {
		byMechanism[row.GroupKey] = row.Total
	}
	for _, variant := range models.Mechanisms() {
		metrics.PartnerConnections.WithLabelValues(string(variant.Mechanism)).Set(float64(byMechanism[string(variant.Mechanism)]))
	}
	return nil
}
