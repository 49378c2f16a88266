package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ActorState is what the sync actor is doing right now
type ActorState int32

const (
	StateIdle ActorState = iota
	StateSyncing
	StateApplyingBatch
)

// String returns the state name
func (s ActorState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSyncing:
		return "Syncing"
	case StateApplyingBatch:
		return "ApplyingBatch"
	default:
		return "Unknown"
	}
}

// maxPullPages bounds how many pages are pulled from one peer per round.
const maxPullPages = 10

// SyncActorConfig holds sync actor configuration
type SyncActorConfig struct {
	BatchSize        int
	PushTimeout      time.Duration
	PullTimeout      time.Duration
	MailboxSize      int
	SendTimeout      time.Duration
	Interval         time.Duration
	SyncedWindow     time.Duration
	VerifyChecksums  bool
	MaxParallelPulls int
}

// ApplyReport counts what happened to a batch of remote records.
type ApplyReport struct {
	Applied   int `json:"applied"`
	Ignored   int `json:"ignored"`
	Conflicts int `json:"conflicts"`
	Discarded int `json:"discarded"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

func (r *ApplyReport) add(o ApplyReport) {
	r.Applied += o.Applied
	r.Ignored += o.Ignored
	r.Conflicts += o.Conflicts
	r.Discarded += o.Discarded
	r.Rejected += o.Rejected
	r.Failed += o.Failed
}

// Accepted is the number of records that passed validation.
func (r *ApplyReport) Accepted() int {
	return r.Applied + r.Ignored + r.Discarded
}

// SyncReport summarizes one sync round.
type SyncReport struct {
	Peers       int         `json:"peers"`
	FailedPeers int         `json:"failed_peers"`
	Pushed      int         `json:"pushed"`
	Pulled      int         `json:"pulled"`
	Apply       ApplyReport `json:"apply"`
}

type commandResult struct {
	value interface{}
	err   error
}

type command struct {
	name  string
	run   func(ctx context.Context) (interface{}, error)
	reply chan commandResult
}

// peerPull is what one peer returned during a round.
type peerPull struct {
	device  model.Device
	changes []model.ChangeRecord
	err     error
}

// SyncActor owns all replication work. Commands are executed one at a time
// from a bounded mailbox; callers wait on a per-command reply channel.
type SyncActor struct {
	cfg       SyncActorConfig
	db        TxRunner
	log       MutationLog
	resolver  *ConflictResolver
	cursors   CursorStore
	directory PeerDirectory
	client    PeerClient
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mailbox  chan command
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	started  atomic.Bool
	stopped  atomic.Bool
	state    atomic.Int32

	// lastSync is only touched by the actor goroutine.
	lastSync *time.Time

	roundsTotal    uint64
	rejectedTotal  uint64
	commandsTotal  uint64
	overloadsTotal uint64
}

// NewSyncActor creates a new sync actor. Run must be called to start it.
func NewSyncActor(
	cfg SyncActorConfig,
	db TxRunner,
	log MutationLog,
	resolver *ConflictResolver,
	cursors CursorStore,
	directory PeerDirectory,
	client PeerClient,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SyncActor {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if cfg.MaxParallelPulls <= 0 {
		cfg.MaxParallelPulls = 4
	}
	if cfg.SyncedWindow <= 0 {
		cfg.SyncedWindow = 5 * time.Minute
	}

	return &SyncActor{
		cfg:       cfg,
		db:        db,
		log:       log,
		resolver:  resolver,
		cursors:   cursors,
		directory: directory,
		client:    client,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		mailbox:   make(chan command, cfg.MailboxSize),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run executes mailbox commands until ctx is cancelled or Stop is called.
// A ticker enqueues a sync round every Interval when Interval is positive.
func (a *SyncActor) Run(ctx context.Context) error {
	if a.stopped.Load() || !a.started.CompareAndSwap(false, true) {
		return nil
	}
	defer a.shutdown()

	var tickerWG sync.WaitGroup
	tickCtx, cancelTicks := context.WithCancel(ctx)
	defer func() {
		cancelTicks()
		tickerWG.Wait()
	}()
	if a.cfg.Interval > 0 {
		tickerWG.Add(1)
		go func() {
			defer tickerWG.Done()
			a.tickLoop(tickCtx)
		}()
	}

	a.logger.Info("Sync actor started",
		zap.Int("mailbox_size", a.cfg.MailboxSize),
		zap.Duration("interval", a.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.stopChan:
			return nil
		case cmd := <-a.mailbox:
			a.metrics.SetMailboxDepth(len(a.mailbox))
			a.execute(ctx, cmd)
		}
	}
}

// Stop stops the actor and waits for the running command to finish.
// Commands still queued are answered with ActorUnavailable.
func (a *SyncActor) Stop() {
	a.stopOnce.Do(func() {
		a.stopped.Store(true)
		close(a.stopChan)
	})
	if !a.started.Load() {
		a.doneOnce.Do(func() { close(a.done) })
		return
	}
	<-a.done
}

// State returns the current actor state
func (a *SyncActor) State() ActorState {
	return ActorState(a.state.Load())
}

// Stats returns actor counters
func (a *SyncActor) Stats() map[string]uint64 {
	return map[string]uint64{
		"rounds":    atomic.LoadUint64(&a.roundsTotal),
		"rejected":  atomic.LoadUint64(&a.rejectedTotal),
		"commands":  atomic.LoadUint64(&a.commandsTotal),
		"overloads": atomic.LoadUint64(&a.overloadsTotal),
	}
}

// SyncWithPeers runs one push/pull round against every connected peer.
func (a *SyncActor) SyncWithPeers(ctx context.Context) (*SyncReport, error) {
	v, err := a.send(ctx, "sync_with_peers", func(ctx context.Context) (interface{}, error) {
		return a.doSync(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SyncReport), nil
}

// ApplyChanges applies a batch of records received from peerID.
func (a *SyncActor) ApplyChanges(ctx context.Context, peerID string, changes []model.ChangeRecord) (*ApplyReport, error) {
	v, err := a.send(ctx, "apply_changes", func(ctx context.Context) (interface{}, error) {
		report, _ := a.applyBatch(ctx, peerID, changes)
		return &report, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ApplyReport), nil
}

// GetStatus returns the replication status of this node.
func (a *SyncActor) GetStatus(ctx context.Context) (*model.SyncStatus, error) {
	v, err := a.send(ctx, "get_status", func(ctx context.Context) (interface{}, error) {
		return a.status(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.SyncStatus), nil
}

// ManualPair adds a peer by address.
func (a *SyncActor) ManualPair(ctx context.Context, name, address string, port int, nodeID string) (*model.Device, error) {
	v, err := a.send(ctx, "manual_pair", func(ctx context.Context) (interface{}, error) {
		device, err := a.directory.ManualAddDevice(name, address, port, nodeID)
		if err != nil {
			return nil, err
		}
		return &device, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Device), nil
}

// GetDevices lists every known peer.
func (a *SyncActor) GetDevices(ctx context.Context) ([]model.Device, error) {
	v, err := a.send(ctx, "get_devices", func(ctx context.Context) (interface{}, error) {
		return a.directory.GetAllDevices(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Device), nil
}

// send enqueues a command and waits for its reply. Enqueueing waits at most
// SendTimeout before the actor is reported overloaded.
func (a *SyncActor) send(ctx context.Context, name string, run func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if a.stopped.Load() {
		a.metrics.RecordMailboxRejected("unavailable")
		return nil, synerrors.ActorUnavailable()
	}

	cmd := command{name: name, run: run, reply: make(chan commandResult, 1)}

	timer := time.NewTimer(a.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case a.mailbox <- cmd:
		a.metrics.SetMailboxDepth(len(a.mailbox))
	case <-timer.C:
		atomic.AddUint64(&a.overloadsTotal, 1)
		a.metrics.RecordMailboxRejected("overloaded")
		a.logger.Warn("Sync actor mailbox full",
			zap.String("command", name),
			zap.Int("capacity", a.cfg.MailboxSize))
		return nil, synerrors.Overloaded("sync actor mailbox", a.cfg.MailboxSize)
	case <-a.done:
		a.metrics.RecordMailboxRejected("unavailable")
		return nil, synerrors.ActorUnavailable()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.value, res.err
	case <-a.done:
		// The reply may have raced with shutdown.
		select {
		case res := <-cmd.reply:
			return res.value, res.err
		default:
			return nil, synerrors.ActorUnavailable()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// execute runs one command with panic recovery and answers its reply.
func (a *SyncActor) execute(ctx context.Context, cmd command) {
	atomic.AddUint64(&a.commandsTotal, 1)
	start := time.Now()

	value, err := a.safeExecute(ctx, cmd)
	cmd.reply <- commandResult{value: value, err: err}

	a.logger.Debug("Sync actor command completed",
		zap.String("command", cmd.name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
}

func (a *SyncActor) safeExecute(ctx context.Context, cmd command) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.state.Store(int32(StateIdle))
			err = synerrors.InternalError(fmt.Sprintf("sync actor command %s panicked: %v", cmd.name, r), nil)
			a.logger.Error("Sync actor panic recovered",
				zap.String("command", cmd.name),
				zap.Any("panic", r))
		}
	}()
	return cmd.run(ctx)
}

func (a *SyncActor) shutdown() {
	a.stopped.Store(true)
	for {
		select {
		case cmd := <-a.mailbox:
			cmd.reply <- commandResult{err: synerrors.ActorUnavailable()}
		default:
			a.metrics.SetMailboxDepth(0)
			a.doneOnce.Do(func() { close(a.done) })
			a.logger.Info("Sync actor stopped")
			return
		}
	}
}

func (a *SyncActor) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-ticker.C:
			if _, err := a.SyncWithPeers(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("Periodic sync not run", zap.Error(err))
			}
		}
	}
}

// doSync pushes local changes to and pulls remote changes from every
// connected peer. Network work runs concurrently per peer; applying pulled
// records is sequential. A failing peer is logged and skipped.
func (a *SyncActor) doSync(ctx context.Context) (*SyncReport, error) {
	a.state.Store(int32(StateSyncing))
	defer a.state.Store(int32(StateIdle))

	start := time.Now()
	atomic.AddUint64(&a.roundsTotal, 1)

	devices := a.directory.GetConnectedDevices()
	report := &SyncReport{Peers: len(devices)}
	pulls := make([]peerPull, len(devices))
	pushed := make([]int, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxParallelPulls)
	for i, device := range devices {
		i, device := i, device
		g.Go(func() error {
			n, err := a.pushTo(gctx, device)
			pushed[i] = n
			if err != nil {
				pulls[i] = peerPull{device: device, err: err}
				return nil
			}
			changes, err := a.pullFrom(gctx, device)
			pulls[i] = peerPull{device: device, changes: changes, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, pull := range pulls {
		report.Pushed += pushed[i]
		if pull.err != nil {
			report.FailedPeers++
			a.logger.Warn("Sync with peer failed",
				zap.String("peer", pull.device.PeerKey()),
				zap.String("endpoint", pull.device.Endpoint()),
				zap.Error(pull.err))
			continue
		}
		if len(pull.changes) == 0 {
			continue
		}

		report.Pulled += len(pull.changes)
		applied, through := a.applyBatch(ctx, pull.device.PeerKey(), pull.changes)
		report.Apply.add(applied)
		if applied.Failed > 0 {
			report.FailedPeers++
		}

		if through == 0 {
			continue
		}
		if err := a.cursors.AdvancePulled(ctx, a.db.Conn(), pull.device.PeerKey(), through); err != nil {
			a.logger.Error("Failed to persist pull cursor",
				zap.String("peer", pull.device.PeerKey()),
				zap.Error(err))
		}
	}

	status := "success"
	if report.FailedPeers == 0 {
		now := a.now()
		a.lastSync = &now
	} else {
		status = "partial"
	}
	a.metrics.RecordSyncRound(status, time.Since(start))

	a.logger.Info("Sync round completed",
		zap.Int("peers", report.Peers),
		zap.Int("failed_peers", report.FailedPeers),
		zap.Int("pushed", report.Pushed),
		zap.Int("pulled", report.Pulled),
		zap.Int("conflicts", report.Apply.Conflicts),
		zap.Duration("duration", time.Since(start)))

	return report, nil
}

// pushTo sends local changes above the peer's acknowledged cursor, advancing
// the cursor after each acknowledged batch.
func (a *SyncActor) pushTo(ctx context.Context, device model.Device) (int, error) {
	peerKey := device.PeerKey()
	cursor, err := a.cursors.Get(ctx, a.db.Conn(), peerKey)
	if err != nil {
		return 0, err
	}

	acked := cursor.AckedPush
	total := 0
	for {
		changes, err := a.log.ChangesSince(ctx, a.db.Conn(), acked, a.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		if len(changes) == 0 {
			return total, nil
		}

		pushCtx, cancel := context.WithTimeout(ctx, a.cfg.PushTimeout)
		_, err = a.client.Push(pushCtx, device, changes)
		cancel()
		if err != nil {
			return total, err
		}

		acked = changes[len(changes)-1].SequenceNumber
		if err := a.cursors.AdvanceAckedPush(ctx, a.db.Conn(), peerKey, acked); err != nil {
			return total, err
		}
		total += len(changes)
		a.metrics.RecordPushed(peerKey, len(changes))

		if len(changes) < a.cfg.BatchSize {
			return total, nil
		}
	}
}

// pullFrom fetches the peer's changes above the local pull cursor.
func (a *SyncActor) pullFrom(ctx context.Context, device model.Device) ([]model.ChangeRecord, error) {
	peerKey := device.PeerKey()
	cursor, err := a.cursors.Get(ctx, a.db.Conn(), peerKey)
	if err != nil {
		return nil, err
	}

	since := cursor.Pulled
	all := make([]model.ChangeRecord, 0)
	for page := 0; page < maxPullPages; page++ {
		pullCtx, cancel := context.WithTimeout(ctx, a.cfg.PullTimeout)
		changes, err := a.client.Pull(pullCtx, device, since, a.cfg.BatchSize)
		cancel()
		if err != nil {
			return nil, err
		}
		all = append(all, changes...)
		a.metrics.RecordPulled(peerKey, len(changes))

		if len(changes) < a.cfg.BatchSize {
			break
		}
		for _, rec := range changes {
			if rec.SequenceNumber > since {
				since = rec.SequenceNumber
			}
		}
	}
	return all, nil
}

// applyBatch applies records in order, each in its own local transaction.
// Malformed records are rejected and counted; the batch continues. A record
// that fails to apply for any other reason stops the batch so it and the
// records after it are offered again. through is the highest sequence number
// handled before that point, and is safe to use as a pull cursor.
func (a *SyncActor) applyBatch(ctx context.Context, peerID string, changes []model.ChangeRecord) (report ApplyReport, through uint64) {
	prev := a.State()
	a.state.Store(int32(StateApplyingBatch))
	defer a.state.Store(int32(prev))

	handled := func(rec *model.ChangeRecord) {
		if rec.SequenceNumber > through {
			through = rec.SequenceNumber
		}
	}

	for i := range changes {
		rec := &changes[i]

		if err := a.validate(rec); err != nil {
			report.Rejected++
			atomic.AddUint64(&a.rejectedTotal, 1)
			a.metrics.RecordRejected(rejectReason(err))
			a.logger.Warn("Rejected malformed change",
				zap.String("peer", peerID),
				zap.String("record_id", rec.RecordID),
				zap.Uint64("sequence", rec.SequenceNumber),
				zap.Error(err))
			handled(rec)
			continue
		}

		res, err := a.resolver.ApplyRemote(ctx, rec, peerID)
		if err != nil {
			a.logger.Error("Failed to apply change",
				zap.String("peer", peerID),
				zap.String("record_id", rec.RecordID),
				zap.String("record_type", string(rec.RecordType)),
				zap.Uint64("sequence", rec.SequenceNumber),
				zap.Error(err))
			if !isValidationError(err) {
				report.Failed++
				a.logger.Warn("Deferring rest of batch",
					zap.String("peer", peerID),
					zap.Int("deferred", len(changes)-i))
				return report, through
			}
			report.Rejected++
			atomic.AddUint64(&a.rejectedTotal, 1)
			a.metrics.RecordRejected("payload")
			handled(rec)
			continue
		}
		handled(rec)

		switch res.Action {
		case ActionIgnored:
			report.Ignored++
		case ActionDiscarded:
			report.Discarded++
			report.Conflicts++
		case ActionMerged:
			report.Applied++
			report.Conflicts++
		default:
			report.Applied++
		}
	}
	return report, through
}

func (a *SyncActor) validate(rec *model.ChangeRecord) error {
	if err := rec.Validate(); err != nil {
		return synerrors.InvalidArgument("malformed change record", err).
			WithDetail("record_id", rec.RecordID)
	}
	if a.cfg.VerifyChecksums && !rec.VerifyChecksum() {
		return synerrors.ChecksumFailed(rec.RecordID, rec.Checksum, rec.ComputeChecksum())
	}
	return nil
}

// status computes pending changes against the slowest known peer.
func (a *SyncActor) status(ctx context.Context) (*model.SyncStatus, error) {
	devices := a.directory.GetConnectedDevices()

	var (
		pending int
		err     error
	)
	if len(devices) == 0 {
		pending, err = a.log.CountSince(ctx, a.db.Conn(), 0)
	} else {
		keys := make([]string, 0, len(devices))
		for _, d := range devices {
			keys = append(keys, d.PeerKey())
		}
		var lowest uint64
		if lowest, err = a.cursors.MinAckedPush(ctx, a.db.Conn(), keys); err == nil {
			pending, err = a.log.CountSince(ctx, a.db.Conn(), lowest)
		}
	}
	if err != nil {
		return nil, err
	}
	a.metrics.SetPendingChanges(pending)

	status := &model.SyncStatus{
		ConnectedPeers: len(devices),
		PendingChanges: pending,
	}
	if a.lastSync != nil {
		last := *a.lastSync
		status.LastSync = &last
		status.IsSynced = pending == 0 && a.now().Sub(last) <= a.cfg.SyncedWindow
	}
	return status, nil
}

func rejectReason(err error) string {
	if synerrors.Is(err, synerrors.ErrCodeChecksumFailed) {
		return "checksum"
	}
	return "invalid"
}

func isValidationError(err error) bool {
	switch synerrors.GetCode(err) {
	case synerrors.ErrCodeInvalidArgument, synerrors.ErrCodeSerialization, synerrors.ErrCodeChecksumFailed:
		return true
	}
	return false
}
