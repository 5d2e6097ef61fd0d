// ABOUTME: Batch sync orchestration across entity kinds
// ABOUTME: Runs dedup, classification, discovery, patching and write-back per batch
package sync

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/harperreed/crmsync/config"
	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/platform"
	"github.com/harperreed/crmsync/remote"
)

// ErrNotConfigured is returned when a batch arrives before credentials are
// configured.
var ErrNotConfigured = errors.New("connector is not configured")

// defaultSearchLimit bounds discovery searches against the remote API.
const defaultSearchLimit = 10

// TimelineReplayer imports a remote entity's timeline onto the platform.
// Replays are idempotent; running one after a no-op update keeps activity
// history flowing even when attributes are already in sync.
type TimelineReplayer interface {
	ReplayTimeline(ctx context.Context, kind models.Kind, id int64, idents []platform.Identity) error
}

// Orchestrator drives one batch of change messages through the full
// pipeline. Failures are isolated per message and per kind: one bad record
// never stops the rest of the batch.
type Orchestrator struct {
	remote   remote.API
	platform platform.Client
	settings *config.Settings

	mapper     *Mapper
	patches    *PatchComputer
	classifier *Classifier
	timeline   TimelineReplayer

	logger      *slog.Logger
	searchLimit int
}

// NewOrchestrator wires an orchestrator from settings, compiling the
// outbound mappings once.
func NewOrchestrator(settings *config.Settings, api remote.API, pf platform.Client, logger *slog.Logger) (*Orchestrator, error) {
	mappings, err := config.Compile(settings)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		remote:      api,
		platform:    pf,
		settings:    settings,
		mapper:      &Mapper{Mappings: mappings},
		patches:     &PatchComputer{Mappings: mappings},
		classifier:  &Classifier{SynchronizedSegments: settings.SynchronizedSegments},
		logger:      logger,
		searchLimit: defaultSearchLimit,
	}, nil
}

// SetTimelineReplayer attaches the timeline importer used after no-op
// updates. Without one, timeline replay is simply skipped.
func (o *Orchestrator) SetTimelineReplayer(tr TimelineReplayer) {
	o.timeline = tr
}

// Mapper exposes the compiled entity mapper for collaborators that import
// remote state outside the batch pipeline.
func (o *Orchestrator) Mapper() *Mapper {
	return o.mapper
}

// SyncBatch processes one inbound batch of change messages. Kinds run in
// their fixed order so contact linkage exists before leads are processed.
// Batch-extract replays set bypass to suspend the segment allow-list.
func (o *Orchestrator) SyncBatch(ctx context.Context, messages []*models.ChangeMessage, bypass bool) error {
	if !o.settings.IsConfigured() {
		return ErrNotConfigured
	}

	deduped := Deduplicate(messages)
	envs := WrapMessages(deduped)
	o.logger.Info("processing batch", "received", len(messages), "deduplicated", len(deduped))

	for _, kind := range models.Kinds() {
		if kind == models.KindAccount && !o.settings.AccountSyncEnabled {
			continue
		}
		// Nothing mapped outbound means nothing to create or patch.
		if len(o.mapper.Mappings[kind]) == 0 {
			o.logger.Debug("no outbound mappings configured", "kind", kind)
			continue
		}
		o.syncKind(ctx, kind, envs, bypass)
	}
	return nil
}

// syncKind runs one kind over the batch: classify, discover remote matches
// for would-be inserts, reclassify with the discovered state, then process.
// The update and insert phases each fan out and settle fully before the
// next phase starts, like discovery does.
func (o *Orchestrator) syncKind(ctx context.Context, kind models.Kind, envs []*Envelope, bypass bool) {
	first := o.classifier.Classify(kind, envs, bypass)

	o.discoverLinks(ctx, kind, first.ToInsert)
	second := o.classifier.Classify(kind, first.ToInsert, bypass)

	updates := append(first.ToUpdate, second.ToUpdate...)
	inserts := second.ToInsert
	skips := append(first.ToSkip, second.ToSkip...)

	var wg sync.WaitGroup
	for _, env := range updates {
		wg.Add(1)
		go func(env *Envelope) {
			defer wg.Done()
			o.processUpdate(ctx, kind, env)
		}(env)
	}
	wg.Wait()

	for _, env := range inserts {
		wg.Add(1)
		go func(env *Envelope) {
			defer wg.Done()
			o.processInsert(ctx, kind, env)
		}(env)
	}
	wg.Wait()

	for _, env := range skips {
		o.logger.Debug("skipped message",
			"kind", kind,
			"business_key", env.Message.BusinessKey(),
			"reason", env.SkipReason,
		)
	}
}

// discoverLinks searches the remote for entities matching unlinked
// messages, all in parallel. Every search settles before any result is
// acted on; a failed search just leaves its message unlinked.
func (o *Orchestrator) discoverLinks(ctx context.Context, kind models.Kind, envs []*Envelope) {
	var wg sync.WaitGroup
	for _, env := range envs {
		criteria := o.searchCriteria(kind, env.Message)
		if criteria == "" {
			continue
		}
		wg.Add(1)
		go func(env *Envelope) {
			defer wg.Done()
			found, err := o.remote.Find(ctx, kind, criteria, o.searchLimit)
			if err != nil {
				o.logger.Warn("discovery search failed",
					"kind", kind,
					"business_key", env.Message.BusinessKey(),
					"error", err,
				)
				return
			}
			if len(found) > 0 {
				env.SetCurrent(kind, found[0])
			}
		}(env)
	}
	wg.Wait()
}

// searchCriteria derives the per-kind discovery query from a message.
func (o *Orchestrator) searchCriteria(kind models.Kind, msg *models.ChangeMessage) string {
	switch kind {
	case models.KindAccount:
		return NormalizeHost(msg.Account.GetString("domain"))
	case models.KindContact:
		return msg.User.GetString("email")
	case models.KindLead:
		if l, ok := msg.Linkage(models.KindContact); ok {
			return strconv.FormatInt(l.ID, 10)
		}
	}
	return ""
}

func (o *Orchestrator) processUpdate(ctx context.Context, kind models.Kind, env *Envelope) {
	msg := env.Message
	linkage, ok := msg.Linkage(kind)
	if !ok {
		o.logger.Warn("update without linkage", "kind", kind, "business_key", msg.BusinessKey())
		return
	}

	// The desired payload reflects the stored linkage. It is built before
	// the fetch so a stale stored revision surfaces as a mismatch instead
	// of being papered over by the fresh read.
	desired := o.mapper.ToRemote(kind, msg)

	// Search results are stubs; the diff runs against the authoritative
	// object fetched by id, always.
	current, err := o.remote.GetByID(ctx, kind, linkage.ID)
	if err != nil {
		o.logger.Error("failed to fetch current state",
			"kind", kind, "id", linkage.ID, "error", err)
		return
	}

	result, err := o.patches.CreatePatch(kind, desired, current)
	if err != nil {
		o.logger.Error("patch computation failed",
			"kind", kind, "id", current.ID, "error", err)
		return
	}

	if !result.HasChanges {
		env.SetCurrent(kind, current)
		o.logger.Debug("remote already in sync", "kind", kind, "id", current.ID)
		o.replayTimeline(ctx, kind, current)
		return
	}

	updated, err := o.remote.Edit(ctx, kind, current.ID, current.Rev, result.Patch)
	if err != nil {
		o.logger.Error("remote edit failed",
			"kind", kind, "id", current.ID, "error", err)
		return
	}
	env.SetCurrent(kind, updated)
	o.writeBack(ctx, kind, env, updated)
}

func (o *Orchestrator) processInsert(ctx context.Context, kind models.Kind, env *Envelope) {
	desired := o.mapper.ToRemote(kind, env.Message)
	created, err := o.remote.Create(ctx, kind, desired)
	if err != nil {
		o.logger.Error("remote create failed",
			"kind", kind, "business_key", env.Message.BusinessKey(), "error", err)
		return
	}
	env.SetCurrent(kind, created)
	o.writeBack(ctx, kind, env, created)
}

// writeBack mirrors fresh remote state onto the platform record the message
// came from. Leads fan out to every linked contact.
func (o *Orchestrator) writeBack(ctx context.Context, kind models.Kind, env *Envelope, entity *remote.Entity) {
	attrs := o.mapper.ToPlatform(kind, entity)
	for _, ident := range o.writeIdentities(kind, env, entity) {
		if err := o.platform.WriteAttributes(ctx, ident, attrs); err != nil {
			o.logger.Error("platform write failed",
				"kind", kind, "id", entity.ID, "error", err)
		}
	}
}

// writeIdentities prefers the identifiers carried on the message itself and
// falls back to identities derived from the remote entity.
func (o *Orchestrator) writeIdentities(kind models.Kind, env *Envelope, entity *remote.Entity) []platform.Identity {
	msg := env.Message
	switch kind {
	case models.KindAccount:
		if domain := msg.Account.GetString("domain"); domain != "" {
			return []platform.Identity{{Domain: NormalizeHost(domain)}}
		}
	case models.KindContact:
		if email := msg.User.GetString("email"); email != "" {
			return []platform.Identity{{Email: email, Alias: Alias(entity.ID)}}
		}
	case models.KindLead:
		if idents := o.mapper.Identities(kind, entity); len(idents) > 0 {
			return idents
		}
		if email := msg.User.GetString("email"); email != "" {
			return []platform.Identity{{Email: email, Alias: Alias(entity.ID)}}
		}
		return nil
	}
	return o.mapper.Identities(kind, entity)
}

// replayTimeline imports the entity's remote activity history after a no-op
// update. Accounts have no person timeline to replay.
func (o *Orchestrator) replayTimeline(ctx context.Context, kind models.Kind, entity *remote.Entity) {
	if o.timeline == nil || kind == models.KindAccount {
		return
	}
	idents := o.mapper.Identities(kind, entity)
	if len(idents) == 0 {
		return
	}
	if err := o.timeline.ReplayTimeline(ctx, kind, entity.ID, idents); err != nil {
		o.logger.Warn("timeline replay failed", "kind", kind, "id", entity.ID, "error", err)
	}
}
