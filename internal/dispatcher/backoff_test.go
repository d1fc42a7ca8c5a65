package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayWithinJitterBounds(t *testing.T) {
	base := 30 * time.Second
	for retry := 1; retry <= 6; retry++ {
		lo := base<<uint(retry) - base
		hi := base<<uint(retry) + base
		for i := 0; i < 100; i++ {
			d := backoffDelay(base, retry)
			assert.GreaterOrEqual(t, d, lo, "retry %d", retry)
			assert.Less(t, d, hi, "retry %d", retry)
		}
	}
}

func TestBackoffDelayGrowsAcrossRetries(t *testing.T) {
	base := 30 * time.Second
	// Worst case of retry n+1 (minimum jitter) still exceeds the best case
	// of retry n (maximum jitter), so successive delays always grow.
	for retry := 1; retry < 6; retry++ {
		maxCurrent := base<<uint(retry) + base
		minNext := base<<uint(retry+1) - base
		assert.GreaterOrEqual(t, minNext, maxCurrent)
	}
}

func TestBackoffDelayFloor(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := backoffDelay(time.Second, 1)
		assert.GreaterOrEqual(t, d, time.Second)
	}
}

func TestBackoffDelayShiftCap(t *testing.T) {
	base := 30 * time.Second
	capped := backoffDelay(base, 500)
	assert.Less(t, capped, base<<maxBackoffShift+base)
	assert.GreaterOrEqual(t, capped, base<<maxBackoffShift-base)
}

func TestBackoffDelayNonPositiveBase(t *testing.T) {
	d := backoffDelay(0, 1)
	assert.GreaterOrEqual(t, d, time.Second)
}
