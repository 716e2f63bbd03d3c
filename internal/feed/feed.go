// Package feed abstracts the live log transport. The core only needs a
// topic subscription that delivers discrete serialized record payloads;
// delivery order within the feed is preserved, ordering relative to the
// bulk fetch is not guaranteed.
package feed

// Topic derives the feed topic for a run's log stream.
func Topic(runID string) string {
	return "logs." + runID
}

// Handler receives one serialized record payload.
type Handler func(payload []byte)

// Subscription is a held feed subscription. Unsubscribe releases it and
// is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// Feed is the live-feed transport contract.
type Feed interface {
	Subscribe(topic string, h Handler) (Subscription, error)
}
