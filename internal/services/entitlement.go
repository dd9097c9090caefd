package services

import (
	"time"

	"github.com/mifi/in-app-subscription-example/internal/models"
)

// HasEntitlement reports whether sub grants access at now. The window is
// closed on both ends and compared at millisecond precision. There is no
// grace period past EndDate.
func HasEntitlement(sub *models.Subscription, now time.Time) bool {
	if sub == nil || sub.IsCancelled {
		return false
	}
	n := now.UnixMilli()
	return sub.StartDate.UnixMilli() <= n && n <= sub.EndDate.UnixMilli()
}
