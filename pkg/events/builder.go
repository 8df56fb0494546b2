package events

import (
	"errors"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/aigrc/pipeline/pkg/canonical"
	"github.com/aigrc/pipeline/pkg/identity"
)

// Signer signs the canonical event body. Satisfied by crypto.HMACSigner.
type Signer interface {
	Sign(canonicalBytes []byte) string
}

// BuilderConfig configures an event builder for one producer.
type BuilderConfig struct {
	// Source is the producer profile stamped on every event. Tool and
	// OrgID are required; InstanceID is required in high-frequency mode.
	Source Source

	// HighFrequency switches identity derivation to the 1ms window with
	// a local sequence number, for producers that can emit equivalent
	// events faster than the standard 10ms window disambiguates.
	HighFrequency bool

	// SchemaVersion overrides the payload schema version. Defaults to
	// CurrentSchemaVersion.
	SchemaVersion string

	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time

	// Signer, when set, signs the canonical body of every built event.
	Signer Signer
}

// Builder constructs content-addressed governance events. Identity,
// category, default criticality, and the canonical hash are derived, not
// caller-supplied, so two builders with the same profile produce
// byte-identical events for the same occurrence. Safe for concurrent use.
type Builder struct {
	source        Source
	highFreq      bool
	seq           *identity.Sequencer
	schemaVersion string
	clock         func() time.Time
	signer        Signer
	validator     *Validator
}

// NewBuilder validates the producer profile and returns a builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	src := cfg.Source
	src.Tool = norm.NFC.String(src.Tool)
	src.OrgID = norm.NFC.String(src.OrgID)
	src.InstanceID = norm.NFC.String(src.InstanceID)
	src.Environment = norm.NFC.String(src.Environment)

	if src.Tool == "" {
		return nil, errors.New("events: builder source.tool is required")
	}
	if src.OrgID == "" {
		return nil, errors.New("events: builder source.orgId is required")
	}
	if cfg.HighFrequency && src.InstanceID == "" {
		return nil, errors.New("events: high-frequency builder requires source.instanceId")
	}

	b := &Builder{
		source:        src,
		highFreq:      cfg.HighFrequency,
		schemaVersion: cfg.SchemaVersion,
		clock:         cfg.Clock,
		signer:        cfg.Signer,
		validator:     NewValidator(),
	}
	if b.schemaVersion == "" {
		b.schemaVersion = CurrentSchemaVersion
	}
	if b.clock == nil {
		b.clock = time.Now
	}
	if b.highFreq {
		b.seq = &identity.Sequencer{}
	}
	return b, nil
}

// EventOption adjusts a single event at build time.
type EventOption func(*eventOptions)

type eventOptions struct {
	criticality   Criticality
	producedAt    time.Time
	parentEventID string
	correlationID string
	previousHash  string
}

// WithCriticality overrides the type's default criticality.
func WithCriticality(c Criticality) EventOption {
	return func(o *eventOptions) { o.criticality = c }
}

// WithProducedAt overrides the production timestamp. Replays of the same
// occurrence must pass the original timestamp so the derived id matches.
func WithProducedAt(t time.Time) EventOption {
	return func(o *eventOptions) { o.producedAt = t }
}

// WithParent links the event to the event that caused it.
func WithParent(eventID string) EventOption {
	return func(o *eventOptions) { o.parentEventID = eventID }
}

// WithCorrelation groups the event into a workflow.
func WithCorrelation(id string) EventOption {
	return func(o *eventOptions) { o.correlationID = id }
}

// WithPreviousHash chains the event to the producer's previous event.
func WithPreviousHash(hash string) EventOption {
	return func(o *eventOptions) { o.previousHash = hash }
}

// Asset builds an event in the asset category.
func (b *Builder) Asset(eventType, assetID string, thread GoldenThread, data map[string]any, opts ...EventOption) (*Event, error) {
	return b.build(eventType, CategoryAsset, assetID, thread, data, opts)
}

// Scan builds an event in the scan category.
func (b *Builder) Scan(eventType, assetID string, thread GoldenThread, data map[string]any, opts ...EventOption) (*Event, error) {
	return b.build(eventType, CategoryScan, assetID, thread, data, opts)
}

// Classification builds an event in the classification category.
func (b *Builder) Classification(eventType, assetID string, thread GoldenThread, data map[string]any, opts ...EventOption) (*Event, error) {
	return b.build(eventType, CategoryClassification, assetID, thread, data, opts)
}

// Compliance builds an event in the compliance category.
func (b *Builder) Compliance(eventType, assetID string, thread GoldenThread, data map[string]any, opts ...EventOption) (*Event, error) {
	return b.build(eventType, CategoryCompliance, assetID, thread, data, opts)
}

// Enforcement builds an event in the enforcement category.
func (b *Builder) Enforcement(eventType, assetID string, thread GoldenThread, data map[string]any, opts ...EventOption) (*Event, error) {
	return b.build(eventType, CategoryEnforcement, assetID, thread, data, opts)
}

// Lifecycle builds an event in the lifecycle category.
func (b *Builder) Lifecycle(eventType, assetID string, thread GoldenThread, data map[string]any, opts ...EventOption) (*Event, error) {
	return b.build(eventType, CategoryLifecycle, assetID, thread, data, opts)
}

// Policy builds an event in the policy category.
func (b *Builder) Policy(eventType, assetID string, thread GoldenThread, data map[string]any, opts ...EventOption) (*Event, error) {
	return b.build(eventType, CategoryPolicy, assetID, thread, data, opts)
}

// Audit builds an event in the audit category.
func (b *Builder) Audit(eventType, assetID string, thread GoldenThread, data map[string]any, opts ...EventOption) (*Event, error) {
	return b.build(eventType, CategoryAudit, assetID, thread, data, opts)
}

// Build builds an event of any known type, deriving the category from
// the taxonomy table.
func (b *Builder) Build(eventType, assetID string, thread GoldenThread, data map[string]any, opts ...EventOption) (*Event, error) {
	cat, ok := CategoryOf(eventType)
	if !ok {
		return nil, Errf(CodeTypeInvalid, "type", "unknown event type %s", eventType)
	}
	return b.build(eventType, cat, assetID, thread, data, opts)
}

func (b *Builder) build(eventType string, want Category, assetID string, thread GoldenThread, data map[string]any, opts []EventOption) (*Event, error) {
	cat, ok := CategoryOf(eventType)
	if !ok {
		return nil, Errf(CodeTypeInvalid, "type", "unknown event type %s", eventType)
	}
	if cat != want {
		return nil, Errf(CodeCategoryMismatch, "category", "type %s belongs to category %s, not %s", eventType, cat, want)
	}
	if len(data) == 0 {
		return nil, Errf(CodeDataEmpty, "data", "data must carry at least one entry")
	}
	if thread.Type == "" {
		return nil, Errf(CodeGoldenThreadMissing, "goldenThread", "every event needs a linked thread or an orphan declaration")
	}

	o := eventOptions{
		criticality: DefaultCriticality(eventType),
		producedAt:  b.clock().UTC(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	assetID = norm.NFC.String(assetID)
	e := &Event{
		SpecVersion:   SpecVersion,
		SchemaVersion: b.schemaVersion,
		Type:          eventType,
		Category:      cat,
		Criticality:   o.criticality,
		Source:        b.source,
		OrgID:         b.source.OrgID,
		AssetID:       assetID,
		ProducedAt:    o.producedAt,
		GoldenThread:  cloneThread(thread),
		PreviousHash:  o.previousHash,
		ParentEventID: o.parentEventID,
		CorrelationID: o.correlationID,
		Data:          cloneValue(data).(map[string]any),
	}

	if b.highFreq {
		e.ID = identity.HighFrequencyID(b.source.InstanceID, eventType, assetID, o.producedAt, b.seq.Next())
	} else {
		e.ID = identity.StandardID(b.source.OrgID, b.source.Tool, eventType, assetID, o.producedAt)
	}

	body, err := canonical.Canonicalize(e)
	if err != nil {
		return nil, Errf(CodeInternal, "", "canonicalize event: %v", err)
	}
	e.Hash = canonical.HashBytes(body)
	if b.signer != nil {
		e.Signature = b.signer.Sign(body)
	}

	// A built event must be indistinguishable from one accepted off the
	// wire, so it is run through the same validator before release.
	raw, err := canonical.ToMap(e)
	if err != nil {
		return nil, Errf(CodeInternal, "", "encode event: %v", err)
	}
	if res := b.validator.Validate(raw); !res.Valid {
		return nil, res.Errors[0]
	}
	return e, nil
}
