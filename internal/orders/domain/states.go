package domain

// FulfillmentState is the shipping lifecycle of an order.
type FulfillmentState string

const (
	FulfillmentPending    FulfillmentState = "pending"
	FulfillmentProcessing FulfillmentState = "processing"
	FulfillmentShipped    FulfillmentState = "shipped"
	FulfillmentDelivered  FulfillmentState = "delivered"
	FulfillmentCancelled  FulfillmentState = "cancelled"
)

// PaymentState records whether an order has been paid.
type PaymentState string

const (
	PaymentUnpaid PaymentState = "unpaid"
	PaymentPaid   PaymentState = "paid"
)

var transitions = map[FulfillmentState][]FulfillmentState{
	FulfillmentPending:    {FulfillmentProcessing, FulfillmentShipped, FulfillmentDelivered, FulfillmentCancelled},
	FulfillmentProcessing: {FulfillmentShipped, FulfillmentDelivered, FulfillmentCancelled},
	FulfillmentShipped:    {FulfillmentDelivered},
}

// ParseFulfillmentState validates a state name from the fixed set.
func ParseFulfillmentState(value string) (FulfillmentState, bool) {
	switch s := FulfillmentState(value); s {
	case FulfillmentPending, FulfillmentProcessing, FulfillmentShipped, FulfillmentDelivered, FulfillmentCancelled:
		return s, true
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s FulfillmentState) IsTerminal() bool {
	return s == FulfillmentDelivered || s == FulfillmentCancelled
}

// CanTransition reports whether from may move to to. Staying in the same state is allowed.
func CanTransition(from, to FulfillmentState) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor lists every state an order may be in to end up in target,
// including target itself.
func SourcesFor(target FulfillmentState) []FulfillmentState {
	sources := []FulfillmentState{target}
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == target {
				sources = append(sources, from)
			}
		}
	}
	return sources
}
