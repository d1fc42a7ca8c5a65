package dispatcher

import (
	"math/rand"
	"time"
)

// maxBackoffShift caps the exponent so the shift cannot overflow; at a 30s
// base that is already over a year of delay.
const maxBackoffShift = 20

// backoffDelay computes base * 2^retry with uniform jitter in [-base, base),
// floored at one second so a retry never lands in the past of the next tick.
func backoffDelay(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retry > maxBackoffShift {
		retry = maxBackoffShift
	}

	d := base << uint(retry)
	jitter := time.Duration(rand.Int63n(int64(2*base))) - base
	d += jitter

	if d < time.Second {
		d = time.Second
	}
	return d
}
