package relay

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/codesynq/collab.go/pkg/protocol"
)

// FailureType is a fault the relay can inject into outbound deliveries.
type FailureType string

const (
	// FailureDrop discards the delivery.
	FailureDrop FailureType = "drop"
	// FailureDelay sends the delivery after a random delay in
	// [MinDelay, MaxDelay]. Delayed deliveries may overtake others.
	FailureDelay FailureType = "delay"
)

// FailureConfig defines how and when to inject a failure.
type FailureConfig struct {
	Type FailureType
	// Event limits the failure to one event. Empty matches every event.
	Event protocol.Event
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

func (f FailureConfig) applies(event protocol.Event) bool {
	return (f.Event == "" || f.Event == event) && shouldTriggerFailure(f.Probability)
}

// cryptoRandFloat64 generates a random float64 in [0.0, 1.0)
func cryptoRandFloat64() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<53))
	return float64(n.Int64()) / float64(1<<53)
}

func shouldTriggerFailure(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return cryptoRandFloat64() < probability
}

func randomDuration(dMin, dMax time.Duration) time.Duration {
	if dMax <= dMin {
		return dMin
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(dMax-dMin)))
	return dMin + time.Duration(n.Int64())
}
