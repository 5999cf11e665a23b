package notify

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zuevav/pik-tracker/internal/match"
	"github.com/zuevav/pik-tracker/internal/model"
	"github.com/zuevav/pik-tracker/internal/store"
)

// DispatchReport summarizes one dispatch pass.
type DispatchReport struct {
	DigestsSent   int      `json:"digests_sent"`
	Notified      int      `json:"notified"`
	Skipped       int      `json:"skipped"`
	Errors        []string `json:"errors,omitempty"`
	PriceDropSent bool     `json:"price_drop_sent"`
}

// Dispatcher fans cycle deltas out to subscribers. One digest per matching
// subscription plus one global price-drop digest per cycle.
type Dispatcher struct {
	store     store.Store
	mailer    Mailer
	defaultTo string
	log       *zap.Logger
}

func NewDispatcher(st store.Store, mailer Mailer, defaultTo string) *Dispatcher {
	return &Dispatcher{
		store:     st,
		mailer:    mailer,
		defaultTo: defaultTo,
		log:       zap.L().With(zap.String("component", "notify.dispatcher")),
	}
}

// Dispatch delivers digests for the cycle's deltas. Send failures are
// collected in the report, never returned as an error: one broken mailbox
// must not abort the cycle. Only store failures are fatal.
func (d *Dispatcher) Dispatch(ctx context.Context, newListings []model.Listing, priceChanges []model.PriceChange, subs []model.Subscription) (*DispatchReport, error) {
	report := &DispatchReport{}

	for _, sub := range subs {
		if !sub.Active || sub.NotifyEmail == "" {
			continue
		}
		if err := d.dispatchSubscription(ctx, sub, newListings, report); err != nil {
			return report, err
		}
	}

	if err := d.dispatchPriceDrops(ctx, priceChanges, report); err != nil {
		return report, err
	}

	return report, nil
}

func (d *Dispatcher) dispatchSubscription(ctx context.Context, sub model.Subscription, newListings []model.Listing, report *DispatchReport) error {
	matched := match.FilterListings(newListings, sub)

	// Drop listings this subscription was already told about. Reconciliation
	// may classify a reappeared listing as new again; the notification log is
	// the final dedup authority.
	fresh := matched[:0:0]
	for _, l := range matched {
		seen, err := d.store.HasNotification(ctx, &sub.ID, l.ID, model.KindNew)
		if err != nil {
			return eris.Wrapf(err, "notify: dedup check for subscription %d", sub.ID)
		}
		if seen {
			report.Skipped++
			continue
		}
		fresh = append(fresh, l)
	}
	if len(fresh) == 0 {
		return nil
	}

	body, err := RenderNewListings(sub.Name, fresh)
	if err != nil {
		return eris.Wrapf(err, "notify: render digest for subscription %d", sub.ID)
	}

	subject := fmt.Sprintf("Новые квартиры по фильтру «%s» (%d)", sub.Name, len(fresh))
	if err := d.mailer.Send(ctx, sub.NotifyEmail, subject, body); err != nil {
		// No records written: the next cycle may retry the whole digest.
		d.log.Warn("digest send failed",
			zap.Int64("subscription", sub.ID),
			zap.String("to", sub.NotifyEmail),
			zap.Error(err),
		)
		report.Errors = append(report.Errors, fmt.Sprintf("subscription %d: %v", sub.ID, err))
		return nil
	}

	report.DigestsSent++
	for _, l := range fresh {
		rec := model.NotificationRecord{
			SubscriptionID: &sub.ID,
			ListingID:      l.ID,
			Kind:           model.KindNew,
			Message:        subject,
		}
		if err := d.store.LogNotification(ctx, rec); err != nil {
			return eris.Wrapf(err, "notify: log record for listing %d", l.ID)
		}
		report.Notified++
	}

	d.log.Info("digest sent",
		zap.Int64("subscription", sub.ID),
		zap.Int("listings", len(fresh)),
	)
	return nil
}

// dispatchPriceDrops sends decreases only; increases are tracked in history
// but nobody wants mail about them.
func (d *Dispatcher) dispatchPriceDrops(ctx context.Context, changes []model.PriceChange, report *DispatchReport) error {
	if d.defaultTo == "" {
		return nil
	}

	var drops []model.PriceChange
	for _, c := range changes {
		if c.Delta() < 0 {
			drops = append(drops, c)
		}
	}
	if len(drops) == 0 {
		return nil
	}

	body, err := RenderPriceDrops(drops)
	if err != nil {
		return eris.Wrap(err, "notify: render price drop digest")
	}

	subject := fmt.Sprintf("Снижение цен: %d квартир", len(drops))
	if err := d.mailer.Send(ctx, d.defaultTo, subject, body); err != nil {
		d.log.Warn("price drop digest send failed", zap.Error(err))
		report.Errors = append(report.Errors, fmt.Sprintf("price drops: %v", err))
		return nil
	}

	report.DigestsSent++
	report.PriceDropSent = true
	for _, c := range drops {
		rec := model.NotificationRecord{
			ListingID: c.Listing.ID,
			Kind:      model.KindPriceDrop,
			Message:   subject,
		}
		if err := d.store.LogNotification(ctx, rec); err != nil {
			return eris.Wrapf(err, "notify: log price drop for listing %d", c.Listing.ID)
		}
		report.Notified++
	}

	d.log.Info("price drop digest sent", zap.Int("listings", len(drops)))
	return nil
}
