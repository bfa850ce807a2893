// Package lease implements the TTL-based poller lease that keeps exactly
// one of N concurrently running processes polling the chat platform.
package lease

import (
	"fmt"
	"log"
	"time"

	"github.com/zulandar/trunkline/internal/models"
	"gorm.io/gorm"
)

// DefaultTTL is the lease freshness window when none is configured.
const DefaultTTL = 30 * time.Second

// TryAcquireOrRenew attempts to acquire or renew the poller lease for self.
// It returns true when self holds a fresh lease after the call. The lease
// changes hands when the record is absent, stale (age >= ttl), or already
// held by self; a fresh lease held by another identity loses the race.
//
// Store failures are non-fatal: the caller simply skips this cycle's
// remote poll. Lease contention must never crash a process.
func TryAcquireOrRenew(db *gorm.DB, self string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	acquired := false
	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		cutoff := now.Add(-ttl)

		var rec models.PollerLease
		result := tx.Where("name = ?", models.PollerLeaseName).First(&rec)
		if result.Error == gorm.ErrRecordNotFound {
			rec = models.PollerLease{
				Name:      models.PollerLeaseName,
				Holder:    self,
				RenewedAt: now,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("create lease: %w", err)
			}
			acquired = true
			return nil
		}
		if result.Error != nil {
			return fmt.Errorf("read lease: %w", result.Error)
		}

		if rec.Holder != self && rec.RenewedAt.After(cutoff) {
			// Fresh and held elsewhere.
			return nil
		}

		// Conditional takeover/renewal: the guard re-checks holder and
		// freshness so a concurrent writer cannot be clobbered.
		upd := tx.Model(&models.PollerLease{}).
			Where("name = ? AND (holder = ? OR renewed_at <= ?)",
				models.PollerLeaseName, self, cutoff).
			Updates(map[string]interface{}{
				"holder":     self,
				"renewed_at": now,
			})
		if upd.Error != nil {
			return fmt.Errorf("renew lease: %w", upd.Error)
		}
		acquired = upd.RowsAffected == 1
		return nil
	})
	if err != nil {
		log.Printf("lease: acquire: %v", err)
		return false
	}
	return acquired
}

// Release deletes the lease only if still owned by self. It never
// force-deletes another holder's lease.
func Release(db *gorm.DB, self string) error {
	result := db.Where("name = ? AND holder = ?", models.PollerLeaseName, self).
		Delete(&models.PollerLease{})
	if result.Error != nil {
		return fmt.Errorf("lease: release: %w", result.Error)
	}
	return nil
}

// Holder returns the current lease holder and renewal time, if any.
func Holder(db *gorm.DB) (string, time.Time, bool) {
	var rec models.PollerLease
	result := db.Where("name = ?", models.PollerLeaseName).First(&rec)
	if result.Error != nil {
		return "", time.Time{}, false
	}
	return rec.Holder, rec.RenewedAt, true
}
