package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
)

// DefaultHealthTimeout bounds one broker metadata round trip.
const DefaultHealthTimeout = 2 * time.Second

// BrokerLister is the slice of the kadm admin client the health check needs.
type BrokerLister interface {
	ListBrokers(ctx context.Context) (kadm.BrokerDetails, error)
}

// HealthChecker reports whether the event bus answers metadata requests.
type HealthChecker struct {
	admin   BrokerLister
	timeout time.Duration
}

// NewHealthChecker wraps an admin client, typically producer.Admin().
func NewHealthChecker(admin BrokerLister) *HealthChecker {
	return &HealthChecker{
		admin:   admin,
		timeout: DefaultHealthTimeout,
	}
}

// Check succeeds when the cluster returns at least one live broker.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.admin == nil {
		return errors.New("kafka admin client not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	brokers, err := h.admin.ListBrokers(ctx)
	if err != nil {
		return fmt.Errorf("list kafka brokers: %w", err)
	}
	if len(brokers) == 0 {
		return errors.New("kafka cluster reported no brokers")
	}
	return nil
}
