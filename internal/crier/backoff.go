package crier

import (
	"math"
	"math/rand"
	"time"
)

// FailureClass selects the base delay of a restart.
type FailureClass int

const (
	// FailureDisconnect is a routine disconnect or liveness failure.
	FailureDisconnect FailureClass = iota
	// FailureLaunch is a failure to build or connect the client.
	FailureLaunch
	// FailureAuth parks the supervisor until an operator restart.
	FailureAuth
	// FailureOperator is an explicit restart; it is not delayed.
	FailureOperator
)

func (c FailureClass) String() string {
	switch c {
	case FailureDisconnect:
		return "disconnect"
	case FailureLaunch:
		return "launch"
	case FailureAuth:
		return "auth"
	case FailureOperator:
		return "operator"
	default:
		return "unknown"
	}
}

const maxDoublings = 20

// Backoff is the restart schedule: the base delay of the failure class,
// doubled per consecutive attempt, capped at Max, with ±Jitter applied.
type Backoff struct {
	Disconnect time.Duration
	Launch     time.Duration
	Max        time.Duration
	Jitter     float64        // fraction in [0, 1)
	Rand       func() float64 // defaults to math/rand.Float64
}

// DefaultBackoff returns the default restart schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Disconnect: 5 * time.Second,
		Launch:     30 * time.Second,
		Max:        2 * time.Minute,
		Jitter:     0.2,
	}
}

// Delay returns the wait before restart attempt (1-based) of class.
func (b Backoff) Delay(class FailureClass, attempt int) time.Duration {
	var base time.Duration
	switch class {
	case FailureDisconnect:
		base = b.Disconnect
	case FailureLaunch:
		base = b.Launch
	default:
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt && i <= maxDoublings && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}

	if b.Jitter > 0 {
		rnd := b.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		d = time.Duration(math.Round(float64(d) * (1 + b.Jitter*(2*rnd()-1))))
		if b.Max > 0 && d > b.Max {
			d = b.Max
		}
	}
	return d
}
