package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopnest/api/internal/repositories"
)

// ErrOrderNumberExhausted indicates no free order number could be allocated.
var ErrOrderNumberExhausted = errors.New("ordernumber: sequence exhausted")

const (
	orderNumberPrefix    = "SN"
	orderNumberDate      = "060102"
	orderNumberSeqDigits = 3
	maxDailySequence     = 999
)

// OrderNumberGeneratorDeps bundles collaborators for the number generator.
type OrderNumberGeneratorDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
}

type orderNumberGenerator struct {
	orders repositories.OrderRepository
	clock  func() time.Time
}

// NewOrderNumberGenerator constructs the daily-sequence order number generator.
// Numbers look like SN260314042: prefix, date, 3-digit sequence resetting each
// day. Next only proposes a candidate; insertion enforces uniqueness and the
// caller re-reads on conflict.
func NewOrderNumberGenerator(deps OrderNumberGeneratorDeps) (OrderNumberGenerator, error) {
	if deps.Orders == nil {
		return nil, errors.New("order number generator: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &orderNumberGenerator{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (g *orderNumberGenerator) Next(ctx context.Context) (string, error) {
	prefix := orderNumberPrefix + g.clock().Format(orderNumberDate)

	max, err := g.orders.MaxOrderNumber(ctx, prefix)
	if err != nil {
		return "", err
	}

	sequence := 1
	if max != "" {
		suffix := strings.TrimPrefix(max, prefix)
		if len(suffix) != orderNumberSeqDigits {
			return "", fmt.Errorf("ordernumber: malformed existing number %q", max)
		}
		current, err := strconv.Atoi(suffix)
		if err != nil {
			return "", fmt.Errorf("ordernumber: malformed existing number %q", max)
		}
		sequence = current + 1
	}

	if sequence > maxDailySequence {
		return "", fmt.Errorf("%w: daily capacity reached for %s", ErrOrderNumberExhausted, prefix)
	}
	return fmt.Sprintf("%s%0*d", prefix, orderNumberSeqDigits, sequence), nil
}
