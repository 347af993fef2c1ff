// Package notify turns detected price changes into one notification job per
// interested user and hands them to the outbound publisher.
package notify

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

// SubscriberReader returns users who saved any of the given products, with
// their saved list narrowed to that set.
type SubscriberReader interface {
	SubscribersForProducts(ctx context.Context, productIDs []string) ([]crawler.Subscriber, error)
}

// Recipient is a subscriber and the changes relevant to them.
type Recipient struct {
	Subscriber crawler.Subscriber
	Changes    []crawler.PriceChange
}

// Resolver maps price changes to recipients.
type Resolver struct {
	subscribers SubscriberReader
	logger      *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(subscribers SubscriberReader, logger *zap.Logger) (*Resolver, error) {
	if subscribers == nil {
		return nil, fmt.Errorf("subscriber reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{subscribers: subscribers, logger: logger.Named("notify")}, nil
}

// Resolve issues a single subscriber query for the distinct product ids in
// changes. Users with alerts disabled, or whose saved products do not
// intersect the changes, are dropped. Recipients are ordered by user id.
func (r *Resolver) Resolve(ctx context.Context, changes []crawler.PriceChange) ([]Recipient, error) {
	byProduct := make(map[string][]crawler.PriceChange)
	ids := make([]string, 0)
	for _, c := range changes {
		if _, ok := byProduct[c.ProductID]; !ok {
			ids = append(ids, c.ProductID)
		}
		byProduct[c.ProductID] = append(byProduct[c.ProductID], c)
	}
	out := make([]Recipient, 0)
	if len(ids) == 0 {
		return out, nil
	}
	sort.Strings(ids)

	subs, err := r.subscribers.SubscribersForProducts(ctx, ids)
	if err != nil {
		return nil, crawler.NewError(crawler.KindPersistence, "load subscribers", err)
	}

	var disabled int
	for _, sub := range subs {
		if !sub.AlertsEnabled {
			disabled++
			continue
		}
		var relevant []crawler.PriceChange
		saved := make(map[string]struct{}, len(sub.SavedProductIDs))
		for _, id := range sub.SavedProductIDs {
			if _, dup := saved[id]; dup {
				continue
			}
			saved[id] = struct{}{}
			relevant = append(relevant, byProduct[id]...)
		}
		if len(relevant) == 0 {
			continue
		}
		sort.SliceStable(relevant, func(i, j int) bool {
			if relevant[i].ProductID != relevant[j].ProductID {
				return relevant[i].ProductID < relevant[j].ProductID
			}
			return relevant[i].PackSize < relevant[j].PackSize
		})
		out = append(out, Recipient{Subscriber: sub, Changes: relevant})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subscriber.UserID < out[j].Subscriber.UserID })

	r.logger.Debug("subscribers resolved",
		zap.Int("products", len(ids)),
		zap.Int("candidates", len(subs)),
		zap.Int("alerts_disabled", disabled),
		zap.Int("recipients", len(out)),
	)
	return out, nil
}
