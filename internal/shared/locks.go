package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// PeriodLockKey builds redis keys for payroll period lifecycle transitions.
func PeriodLockKey(periodID uuid.UUID) string {
	return fmt.Sprintf("payroll:period:%s:lock", periodID)
}
