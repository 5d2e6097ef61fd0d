// ABOUTME: Webhook reconciliation into platform state
// ABOUTME: Imports remote-side changes as attribute writes and tracked events
package webhook

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/platform"
	"github.com/harperreed/crmsync/remote"
	"github.com/harperreed/crmsync/sync"
)

// eventSource tags imported timeline events so the replay watermark query
// only considers events this connector produced.
const eventSource = "crm"

// Reconciler applies inbound webhook deliveries to the platform. Payloads
// are processed independently; one failing payload never blocks the rest of
// the delivery.
type Reconciler struct {
	remote   remote.API
	platform platform.Client
	mapper   *sync.Mapper
	logger   *slog.Logger
}

// NewReconciler wires a webhook reconciler.
func NewReconciler(api remote.API, pf platform.Client, mapper *sync.Mapper, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		remote:   api,
		platform: pf,
		mapper:   mapper,
		logger:   logger,
	}
}

// HandleDelivery processes one webhook delivery. Every payload is attempted;
// failures are logged under the delivery's trace id and swallowed. Safe for
// concurrent use; deliveries arrive in parallel from the HTTP surface.
func (r *Reconciler) HandleDelivery(ctx context.Context, d *Delivery) {
	traceID := ulid.Make().String()
	logger := r.logger.With("delivery", traceID)
	logger.Info("processing webhook delivery", "payloads", len(d.Payloads))

	for i := range d.Payloads {
		p := &d.Payloads[i]
		switch p.Classify() {
		case Activity:
			r.handleActivity(ctx, logger, d, p)
		case EntityUpdate:
			r.handleEntityUpdate(ctx, logger, p)
		default:
			logger.Debug("ignoring payload", "type", p.Type, "id", p.ID)
		}
	}
}

// handleActivity imports a newly created remote activity as a tracked event
// on every linked platform record, refreshing the linked entity's mirrored
// attributes alongside each event.
func (r *Reconciler) handleActivity(ctx context.Context, logger *slog.Logger, d *Delivery, p *Payload) {
	if !d.HasCreateEvent(p) {
		logger.Debug("skipping non-create activity", "id", p.ID)
		return
	}
	activityID, ok := p.EntityID()
	if !ok {
		logger.Warn("activity payload without parseable id", "id", p.ID)
		return
	}
	linkedKind, linkedID, ok := p.LinkedEntity()
	if !ok {
		logger.Debug("activity without linked person", "id", p.ID)
		return
	}

	linked, err := r.remote.GetByID(ctx, linkedKind, linkedID)
	if err != nil {
		logger.Error("failed to fetch linked entity",
			"kind", linkedKind, "id", linkedID, "error", err)
		return
	}
	activity, err := r.remote.GetActivity(ctx, activityID)
	if err != nil {
		logger.Error("failed to fetch activity", "id", activityID, "error", err)
		return
	}

	ev := TrackFromActivity(activity)
	attrs := r.mapper.ToPlatform(linkedKind, linked)
	for _, ident := range r.mapper.Identities(linkedKind, linked) {
		if err := r.platform.RecordEvent(ctx, ident, ev); err != nil {
			logger.Error("failed to track activity",
				"activity", activityID, "error", err)
		}
		if err := r.platform.WriteAttributes(ctx, ident, attrs); err != nil {
			logger.Error("failed to refresh linked entity",
				"kind", linkedKind, "id", linkedID, "error", err)
		}
	}
}

// handleEntityUpdate refreshes the platform mirror of one remote entity:
// attributes, the timeline since the last watermark, and the account link
// for person payloads that carry one.
func (r *Reconciler) handleEntityUpdate(ctx context.Context, logger *slog.Logger, p *Payload) {
	kind, _ := p.Kind()
	id, ok := p.EntityID()
	if !ok {
		logger.Warn("entity payload without parseable id", "type", p.Type, "id", p.ID)
		return
	}

	// Webhook payloads omit the revision; fetch the authoritative state so
	// the stored linkage stays write-safe.
	entity, err := r.remote.GetByID(ctx, kind, id)
	if err != nil {
		logger.Error("failed to fetch entity", "kind", kind, "id", id, "error", err)
		return
	}

	attrs := r.mapper.ToPlatform(kind, entity)
	idents := r.mapper.Identities(kind, entity)
	for _, ident := range idents {
		if err := r.platform.WriteAttributes(ctx, ident, attrs); err != nil {
			logger.Error("failed to write attributes",
				"kind", kind, "id", id, "error", err)
		}
	}

	if kind != models.KindAccount {
		if err := r.ReplayTimeline(ctx, kind, id, idents); err != nil {
			logger.Warn("timeline replay failed", "kind", kind, "id", id, "error", err)
		}
		r.linkAccount(ctx, logger, p, idents)
	}
}

// linkAccount connects the updated person record to its linked account.
// The link is only asserted when the account resolves to a domain; an
// identity-less link would create an orphan account record.
func (r *Reconciler) linkAccount(ctx context.Context, logger *slog.Logger, p *Payload, idents []platform.Identity) {
	accountID, ok := p.LinkedAccountID()
	if !ok {
		return
	}
	account, err := r.remote.GetByID(ctx, models.KindAccount, accountID)
	if err != nil {
		logger.Error("failed to fetch linked account", "id", accountID, "error", err)
		return
	}
	domain := sync.NormalizeHost(account.URL.Primary())
	if domain == "" {
		return
	}
	for _, ident := range idents {
		ident.Account = &platform.Identity{Domain: domain}
		if err := r.platform.WriteAttributes(ctx, ident, platform.AttributeMap{}); err != nil {
			logger.Error("failed to link account", "id", accountID, "error", err)
		}
	}
}

// ReplayTimeline imports the remote timeline of an entity onto the platform
// records behind the given identities. The watermark is derived from the
// platform's own event history, so replays are idempotent: only entries
// strictly newer than the newest imported event are emitted.
func (r *Reconciler) ReplayTimeline(ctx context.Context, kind models.Kind, id int64, idents []platform.Identity) error {
	if len(idents) == 0 {
		return nil
	}
	activities, err := r.remote.FindTimeline(ctx, kind, id)
	if err != nil {
		return err
	}
	if len(activities) == 0 {
		return nil
	}

	for _, ident := range idents {
		watermark, err := r.platform.LatestEventTime(ctx, ident, eventSource)
		if err != nil {
			return err
		}
		for _, activity := range activities {
			if activity.ActivityType.Name == "" {
				continue
			}
			created := activity.CreatedAt()
			if created.IsZero() || !created.After(watermark) {
				continue
			}
			if err := r.platform.RecordEvent(ctx, ident, TrackFromActivity(activity)); err != nil {
				return err
			}
		}
	}
	return nil
}

// TrackFromActivity converts a remote activity into a platform event. The
// event id is deterministic so the platform deduplicates redelivered
// activities.
func TrackFromActivity(a *remote.Activity) platform.Event {
	return platform.Event{
		Name: a.ActivityType.Name,
		Params: map[string]any{
			"note":             a.LogNote.Note,
			"is_all_day":       a.IsAllDay,
			"is_cancelled":     a.IsCancelled,
			"start_time":       a.StartTime,
			"end_time":         a.EndTime,
			"is_flagged":       a.IsFlagged,
			"logged_by_name":   a.LoggedBy.Name,
			"logged_by_emails": strings.Join(a.LoggedBy.Emails, ", "),
		},
		Context: map[string]any{
			"event_id":   eventSource + "-" + strconv.FormatInt(a.ID, 10) + "-" + strconv.FormatInt(a.CreatedAt().Unix(), 10),
			"ip":         0,
			"created_at": a.CreatedTime,
			"source":     eventSource,
		},
	}
}
