package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgelab/spawn-orchestrator/internal/engine"
	"github.com/forgelab/spawn-orchestrator/internal/metrics"
	"github.com/forgelab/spawn-orchestrator/internal/models"
	"github.com/forgelab/spawn-orchestrator/internal/sandbox"
)

// ApprovalToken is the literal message that moves a session from
// awaiting-approval into building. Matching is case-insensitive and
// whitespace-trimmed.
const ApprovalToken = "approved"

// SpawnStore is the durable persistence the actor writes through to at
// phase transitions
type SpawnStore interface {
	CreateSpawn(ctx context.Context, rec *models.SpawnRecord) error
	UpdateSpawnStatus(ctx context.Context, id uuid.UUID, status models.SpawnStatus, errMsg, buildLog *string) error
	SaveFiles(ctx context.Context, id uuid.UUID, files map[string]string) error
	DeleteSpawn(ctx context.Context, id uuid.UUID) error
}

// ManifestStore writes the project manifest blob for out-of-band
// inspection
type ManifestStore interface {
	WriteManifest(ctx context.Context, spawnID string, m *models.Manifest) error
}

type messageKind int

const (
	msgChat messageKind = iota
	msgReset
)

type message struct {
	kind messageKind
	text string
}

// Actor owns all mutable state for one spawn session. External triggers
// are serialized through the inbox: a message is only accepted while no
// prior message is being handled, so overlapping build loops or a reset
// racing a build cannot occur.
type Actor struct {
	id        uuid.UUID
	extractor *engine.SpecExtractor
	loop      *engine.BuildLoop
	store     SpawnStore
	manifests ManifestStore
	metrics   *metrics.SpawnMetrics
	hub       *Hub
	tracer    trace.Tracer

	inbox chan message
	quit  chan struct{}
	busy  atomic.Bool

	// Owned exclusively by run(); never touched from outside.
	prompt            string
	spec              *models.Spec
	status            models.SpawnStatus
	files             map[string]string
	errMsg            string
	completedFeatures int
	buildLog          []string
	hasDurableRow     bool
}

// NewActor creates and starts a session actor for one spawn id
func NewActor(id uuid.UUID, extractor *engine.SpecExtractor, loop *engine.BuildLoop, store SpawnStore, manifests ManifestStore, m *metrics.SpawnMetrics) *Actor {
	a := &Actor{
		id:        id,
		extractor: extractor,
		loop:      loop,
		store:     store,
		manifests: manifests,
		metrics:   m,
		hub:       NewHub(id.String()),
		tracer:    otel.Tracer("session-actor"),
		inbox:     make(chan message, 1),
		quit:      make(chan struct{}),
		status:    models.StatusIdle,
		files:     map[string]string{},
	}
	go a.run()
	return a
}

// ID returns the spawn id this actor owns
func (a *Actor) ID() uuid.UUID {
	return a.id
}

// Hub returns the live state channel for this session
func (a *Actor) Hub() *Hub {
	return a.hub
}

// Snapshot returns the latest published live state
func (a *Actor) Snapshot() models.Snapshot {
	return a.hub.Current()
}

// Deliver hands a chat message to the actor. It returns false when the
// actor is still handling a prior message; callers surface that as a
// busy condition rather than queueing, which guards against
// double-starts from duplicate or racing triggers.
func (a *Actor) Deliver(text string) bool {
	return a.send(message{kind: msgChat, text: text})
}

// Reset requests a reset to the initial idle state, discarding durable
// rows. It is not a hard cancel: while a build is in flight the request
// is rejected.
func (a *Actor) Reset() bool {
	return a.send(message{kind: msgReset})
}

// send claims the busy flag and enqueues the message. The flag, not
// channel readiness, is the acceptance criterion: an idle actor accepts
// exactly one message even if run() has not parked at its select yet,
// and run() releases the flag only after the handler returns.
func (a *Actor) send(msg message) bool {
	if !a.busy.CompareAndSwap(false, true) {
		return false
	}
	select {
	case <-a.quit:
		a.busy.Store(false)
		return false
	default:
	}
	a.inbox <- msg
	return true
}

// Stop terminates the actor goroutine. Used on manager shutdown; a
// stopped actor rejects all further messages.
func (a *Actor) Stop() {
	close(a.quit)
}

func (a *Actor) run() {
	for {
		select {
		case <-a.quit:
			return
		case msg := <-a.inbox:
			switch msg.kind {
			case msgChat:
				a.handleChat(context.Background(), msg.text)
			case msgReset:
				a.handleReset(context.Background())
			}
			a.busy.Store(false)
		}
	}
}

// handleChat dispatches a conversational message according to the
// current state machine position
func (a *Actor) handleChat(ctx context.Context, text string) {
	ctx, span := a.tracer.Start(ctx, "session_actor.handle_chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("spawn_id", a.id.String()),
		attribute.String("status", string(a.status)),
	)

	switch a.status {
	case models.StatusIdle:
		a.prompt = text
		a.runExtraction(ctx, text)

	case models.StatusExtractingSpec, models.StatusBuilding:
		// Guard against double-start from duplicate triggers.
		log.Printf("Ignoring message for spawn %s in state %s", a.id, a.status)

	case models.StatusAwaitingApproval:
		if strings.EqualFold(strings.TrimSpace(text), ApprovalToken) {
			a.runBuild(ctx, "")
			return
		}
		// Anything else is spec-revision feedback: the pending spawn's
		// rows are discarded and extraction re-runs on the combined
		// prompt, replacing the prior Spec wholesale.
		a.discardDurableRows(ctx)
		a.prompt = fmt.Sprintf("%s\n\nRevisions requested: %s", a.prompt, text)
		a.spec = nil
		a.runExtraction(ctx, a.prompt)

	case models.StatusComplete:
		a.runBuild(ctx, text)

	case models.StatusFailed:
		// Retry is an explicit user action: a fresh prompt restarts the
		// machine from the top.
		a.discardDurableRows(ctx)
		a.resetState()
		a.prompt = text
		a.runExtraction(ctx, text)
	}
}

// runExtraction drives idle/awaiting-approval -> extracting-spec ->
// awaiting-approval | failed
func (a *Actor) runExtraction(ctx context.Context, prompt string) {
	a.setStatus(models.StatusExtractingSpec)

	spec, err := a.extractor.Extract(ctx, prompt)
	if err != nil {
		a.fail(ctx, fmt.Sprintf("spec extraction failed: %v", err))
		return
	}

	a.spec = spec
	a.setStatus(models.StatusAwaitingApproval)

	rec := &models.SpawnRecord{
		ID:          a.id,
		Prompt:      a.prompt,
		Name:        spec.Name,
		Description: spec.Description,
		Platform:    string(spec.Platform),
		Features:    spec.Features,
		Summary:     spec.Summary,
		Status:      models.StatusPending,
	}
	if err := a.store.CreateSpawn(ctx, rec); err != nil {
		a.fail(ctx, fmt.Sprintf("failed to persist spawn: %v", err))
		return
	}
	a.hasDurableRow = true

	if a.metrics != nil {
		a.metrics.RecordSpawnCreated(ctx, string(spec.Platform))
	}
}

// runBuild drives building -> complete | failed. A non-empty feedback
// string makes this a continuation cycle seeded with the prior files.
func (a *Actor) runBuild(ctx context.Context, feedback string) {
	a.setStatus(models.StatusBuilding)
	a.updateDurableStatus(ctx, models.StatusBuilding)

	if a.metrics != nil {
		a.metrics.RecordBuildStarted(ctx, string(a.spec.Platform))
	}
	start := time.Now()

	input := engine.BuildInput{Spec: a.spec, Feedback: feedback}
	if feedback != "" {
		seed := make(map[string]string, len(a.files))
		for path, content := range a.files {
			seed[path] = content
		}
		input.SeedFiles = seed
	} else {
		a.files = map[string]string{}
		a.completedFeatures = 0
	}

	result, err := a.executeBuild(ctx, input)
	if err != nil {
		a.fail(ctx, err.Error())
		if a.metrics != nil {
			a.metrics.RecordBuildFailed(ctx, string(a.spec.Platform), time.Since(start))
		}
		return
	}

	// Success of the model call is not sufficient; files written during
	// this loop are the completion proof. Seeds from a continuation
	// cycle do not count.
	if result.Written == 0 {
		a.fail(ctx, "no files generated")
		if a.metrics != nil {
			a.metrics.RecordBuildFailed(ctx, string(a.spec.Platform), time.Since(start))
		}
		return
	}

	a.files = result.Files
	a.buildLog = append(a.buildLog, result.BuildLog...)
	a.errMsg = ""
	a.completedFeatures = len(a.spec.Features)
	a.setStatus(models.StatusComplete)

	if err := a.persistBuild(ctx); err != nil {
		a.fail(ctx, fmt.Sprintf("failed to persist build: %v", err))
		if a.metrics != nil {
			a.metrics.RecordBuildFailed(ctx, string(a.spec.Platform), time.Since(start))
		}
		return
	}

	if a.metrics != nil {
		a.metrics.RecordBuildCompleted(ctx, string(a.spec.Platform), time.Since(start))
	}
}

// executeBuild runs the build loop against a fresh sandbox that is
// destroyed unconditionally after the loop terminates
func (a *Actor) executeBuild(ctx context.Context, input engine.BuildInput) (*engine.BuildResult, error) {
	ws, err := sandbox.NewWorkspace()
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	defer func() {
		if err := ws.Destroy(); err != nil {
			log.Printf("Failed to destroy sandbox for spawn %s: %v", a.id, err)
		}
	}()

	return a.loop.Run(ctx, input, ws, func(path, content string) {
		a.files[path] = content
		if a.completedFeatures < len(a.spec.Features) {
			a.completedFeatures++
		}
		a.publish()
	})
}

// persistBuild writes files, manifest and terminal status through to
// the durable layer at the loop-completion checkpoint
func (a *Actor) persistBuild(ctx context.Context) error {
	if err := a.store.SaveFiles(ctx, a.id, a.files); err != nil {
		return fmt.Errorf("failed to save files: %w", err)
	}

	buildLog := strings.Join(a.buildLog, "\n")
	if err := a.store.UpdateSpawnStatus(ctx, a.id, models.StatusComplete, nil, &buildLog); err != nil {
		return fmt.Errorf("failed to update spawn status: %w", err)
	}

	paths := make([]string, 0, len(a.files))
	for path := range a.files {
		paths = append(paths, path)
	}
	manifest := &models.Manifest{
		Name:        a.spec.Name,
		Description: a.spec.Description,
		Platform:    string(a.spec.Platform),
		Files:       paths,
		GeneratedAt: time.Now().UTC(),
	}
	if err := a.manifests.WriteManifest(ctx, a.id.String(), manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// handleReset wipes durable rows, clears all state and returns to idle
func (a *Actor) handleReset(ctx context.Context) {
	ctx, span := a.tracer.Start(ctx, "session_actor.handle_reset")
	defer span.End()
	span.SetAttributes(attribute.String("spawn_id", a.id.String()))

	a.discardDurableRows(ctx)
	a.resetState()
	a.prompt = ""
	a.publish()
}

func (a *Actor) resetState() {
	a.spec = nil
	a.status = models.StatusIdle
	a.files = map[string]string{}
	a.errMsg = ""
	a.completedFeatures = 0
	a.buildLog = nil
}

func (a *Actor) discardDurableRows(ctx context.Context) {
	if !a.hasDurableRow {
		return
	}
	if err := a.store.DeleteSpawn(ctx, a.id); err != nil {
		log.Printf("Failed to delete durable rows for spawn %s: %v", a.id, err)
		return
	}
	a.hasDurableRow = false
}

// fail converges every failure kind on the same transition: status
// failed, error populated, live publish before the durable write
func (a *Actor) fail(ctx context.Context, errMsg string) {
	a.errMsg = errMsg
	a.setStatus(models.StatusFailed)
	a.updateDurableStatus(ctx, models.StatusFailed)
}

func (a *Actor) updateDurableStatus(ctx context.Context, status models.SpawnStatus) {
	if !a.hasDurableRow {
		return
	}
	var errMsg *string
	if a.errMsg != "" {
		errMsg = &a.errMsg
	}
	var buildLog *string
	if len(a.buildLog) > 0 {
		joined := strings.Join(a.buildLog, "\n")
		buildLog = &joined
	}
	if err := a.store.UpdateSpawnStatus(ctx, a.id, status, errMsg, buildLog); err != nil {
		log.Printf("Failed to update durable status for spawn %s: %v", a.id, err)
	}
}

// setStatus mutates the state machine position and publishes the new
// snapshot immediately, before any durable write
func (a *Actor) setStatus(status models.SpawnStatus) {
	a.status = status
	a.publish()
}

func (a *Actor) publish() {
	files := make(map[string]string, len(a.files))
	for path, content := range a.files {
		files[path] = content
	}
	a.hub.Publish(models.Snapshot{
		SpawnID:           a.id.String(),
		Spec:              a.spec,
		Files:             files,
		Status:            a.status,
		Error:             a.errMsg,
		CompletedFeatures: a.completedFeatures,
	})
}
