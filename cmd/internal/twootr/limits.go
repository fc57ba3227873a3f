package twootr

import "time"

const (
	defaultMaxPostChars    = 280
	defaultDeliveryTimeout = 5 * time.Second
	defaultQueueSize       = 256
)

// Limits bounds post size and per-session delivery resources.
type Limits struct {
	// MaxPostChars is the maximum post length in runes.
	MaxPostChars int
	// DeliveryTimeout bounds a single ReceiverEndPoint.Deliver call.
	DeliveryTimeout time.Duration
	// QueueSize is the capacity of each session's delivery queue.
	QueueSize int
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxPostChars:    defaultMaxPostChars,
		DeliveryTimeout: defaultDeliveryTimeout,
		QueueSize:       defaultQueueSize,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxPostChars <= 0 {
		l.MaxPostChars = d.MaxPostChars
	}
	if l.DeliveryTimeout <= 0 {
		l.DeliveryTimeout = d.DeliveryTimeout
	}
	if l.QueueSize <= 0 {
		l.QueueSize = d.QueueSize
	}
	return l
}
