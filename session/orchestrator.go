package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"energyquiz/question"
	"energyquiz/roundtimer"
)

// QuestionSource supplies one question and its answer key per round.
type QuestionSource interface {
	Generate(ctx context.Context, kind question.Kind, difficulty int) (question.Question, question.AnswerKey, error)
}

// Notifier observes session lifecycle events. Calls happen after the
// session lock is released, in no particular order across sessions;
// Snapshot.Version orders events of one session.
type Notifier interface {
	SessionChanged(ctx context.Context, snap Snapshot)
	// SessionFinished fires once per game that played at least one round,
	// with removed players included for reconciliation.
	SessionFinished(ctx context.Context, snap Snapshot)
	SessionRemoved(ctx context.Context, snap Snapshot)
}

type nopNotifier struct{}

func (nopNotifier) SessionChanged(context.Context, Snapshot)  {}
func (nopNotifier) SessionFinished(context.Context, Snapshot) {}
func (nopNotifier) SessionRemoved(context.Context, Snapshot)  {}

// Orchestrator drives sessions through their lifecycle: readiness, transfer
// out of the waiting area, rounds, evaluation and teardown.
type Orchestrator struct {
	registry *Registry
	source   QuestionSource
	rules    Rules
	clock    clockwork.Clock
	notifier Notifier
	ctx      context.Context

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used by round timers.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithNotifier sets the lifecycle observer.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithBaseContext sets the context passed to the question source and
// notifier from timer-driven transitions.
func WithBaseContext(ctx context.Context) Option {
	return func(o *Orchestrator) { o.ctx = ctx }
}

// WithSeed seeds the RNG used to pick options hidden by jokers.
func WithSeed(seed uint64) Option {
	return func(o *Orchestrator) { o.rng = rand.New(rand.NewPCG(seed, seed^0x5bd1e995)) }
}

// NewOrchestrator returns an orchestrator over registry, using the
// registry's rules.
func NewOrchestrator(registry *Registry, source QuestionSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		source:   source,
		rules:    registry.rules,
		clock:    clockwork.NewRealClock(),
		notifier: nopNotifier{},
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return o
}

// Registry returns the registry this orchestrator drives.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Rules returns the game rules in effect.
func (o *Orchestrator) Rules() Rules {
	return o.rules
}

// effects are collected under a session lock and executed after it is
// released.
type effects struct {
	snap     Snapshot
	notify   bool
	finished bool
	teardown bool
	begin    bool
	transfer []Player
}

func (o *Orchestrator) apply(s *Session, fx effects) {
	if fx.notify || fx.finished {
		s.notifyMu.Lock()
		// Effects are applied outside the session lock, so a later commit
		// can get here first. Its snapshot supersedes this one.
		if fx.notify && fx.snap.Version > s.notified {
			s.notified = fx.snap.Version
			o.notifier.SessionChanged(o.ctx, fx.snap)
		}
		if fx.finished {
			o.notifier.SessionFinished(o.ctx, fx.snap)
		}
		s.notifyMu.Unlock()
	}
	if fx.teardown {
		o.teardown(s)
		return
	}
	if fx.transfer != nil {
		o.transfer(s, fx.transfer)
	}
	if fx.begin {
		o.beginRound(s)
	}
}

// commitLocked publishes a mutation: it checks invariants, bumps the
// version and captures the snapshot for notification. A violated invariant
// tears the session down; the waiting area is emptied instead.
func (o *Orchestrator) commitLocked(s *Session, fx *effects) error {
	err := s.checkLocked()
	if err != nil {
		log.Error().Err(err).Uint64("session_id", s.id).Msg("session invariant violated")
		fx.begin, fx.transfer = false, nil
		if s.kind == KindWaitingArea {
			s.players = nil
			s.status = StatusWaitingArea
		} else {
			s.timer.Cancel()
			s.timer = nil
			fx.teardown = true
		}
	}
	s.touchLocked()
	fx.notify = true
	fx.snap = s.snapshotLocked()
	return err
}

// mutate runs fn under the session lock. fn must return an error before
// changing anything if it rejects the call.
func (o *Orchestrator) mutate(sessionID uint64, fn func(s *Session, fx *effects) error) error {
	s, err := o.registry.lookup(sessionID)
	if err != nil {
		return err
	}
	var fx effects
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if err = fn(s, &fx); err == nil {
		err = o.commitLocked(s, &fx)
	}
	s.mu.Unlock()
	o.apply(s, fx)
	return err
}

func (o *Orchestrator) teardown(s *Session) {
	id := s.id
	snap, err := o.registry.Remove(id)
	if err != nil {
		// Already removed by a concurrent teardown.
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notified = max(s.notified, snap.Version)
	log.Info().
		Uint64("session_id", id).
		Str("kind", snap.Kind.String()).
		Int("rounds", snap.Round).
		Msg("session removed")
	o.notifier.SessionRemoved(o.ctx, snap)
}

// CreateSession creates a game session in status Started.
func (o *Orchestrator) CreateSession(kind Kind) (uint64, error) {
	id, err := o.registry.Create(kind)
	if err != nil {
		return 0, err
	}
	log.Info().Uint64("session_id", id).Str("kind", kind.String()).Msg("session created")
	if snap, err := o.registry.Get(id); err == nil {
		o.notifier.SessionChanged(o.ctx, snap)
	}
	return id, nil
}

// GetSession returns a snapshot of the session.
func (o *Orchestrator) GetSession(id uint64) (Snapshot, error) {
	return o.registry.Get(id)
}

// ListSessions returns snapshots of all live sessions.
func (o *Orchestrator) ListSessions() []Snapshot {
	return o.registry.List()
}

// LocatePlayer returns the session currently holding the player.
func (o *Orchestrator) LocatePlayer(playerID uint64) (uint64, error) {
	id, ok := o.registry.FindPlayer(playerID)
	if !ok {
		return 0, ErrPlayerNotFound
	}
	return id, nil
}

// WaitingAreaID returns the id of the waiting area.
func (o *Orchestrator) WaitingAreaID() uint64 {
	return o.registry.WaitingAreaID()
}

// AddPlayer joins a new player to the session. Game sessions accept players
// only before their first round.
func (o *Orchestrator) AddPlayer(sessionID uint64, username string, best BestScores) (Player, error) {
	if err := ValidateUsername(username, o.rules.MaxUsernameLength); err != nil {
		return Player{}, err
	}
	var added Player
	err := o.mutate(sessionID, func(s *Session, fx *effects) error {
		if s.kind != KindWaitingArea && (s.status != StatusStarted || s.generating) {
			return ErrWrongPhase
		}
		if limit := o.rules.capacity(s.kind); limit > 0 && len(s.players) >= limit {
			return ErrSessionFull
		}
		if s.usernameTakenLocked(username) {
			return ErrDuplicateUsername
		}
		p := &Player{ID: o.registry.nextPlayerID(), Username: username, Best: best}
		s.players = append(s.players, p)
		added = p.clone()
		return nil
	})
	if err != nil {
		return Player{}, err
	}
	log.Info().
		Uint64("session_id", sessionID).
		Uint64("player_id", added.ID).
		Str("username", username).
		Msg("player joined")
	return added, nil
}

// RemovePlayer takes a player out of the session. Removing an absent player
// returns ErrPlayerNotFound and changes nothing.
func (o *Orchestrator) RemovePlayer(sessionID, playerID uint64) (Player, error) {
	var removed Player
	err := o.mutate(sessionID, func(s *Session, fx *effects) error {
		_, idx := s.playerLocked(playerID)
		if idx < 0 {
			return ErrPlayerNotFound
		}
		removed = s.removePlayerLocked(idx)
		o.afterDepartureLocked(s, fx)
		return nil
	})
	if err != nil {
		return Player{}, err
	}
	log.Info().Uint64("session_id", sessionID).Uint64("player_id", playerID).Msg("player left")
	return removed, nil
}

func (o *Orchestrator) afterDepartureLocked(s *Session, fx *effects) {
	switch s.status {
	case StatusWaitingArea:
		o.maybeTransferLocked(s, fx)
	case StatusStarted:
		if o.startReadyLocked(s) {
			fx.begin = true
		}
	case StatusOngoing, StatusPaused:
		if len(s.players) == 0 {
			o.abandonLocked(s, fx)
			return
		}
		if s.status == StatusOngoing && s.allSubmittedLocked() && s.timer.Cancel() {
			o.closeRoundLocked(s, fx)
		} else if s.status == StatusPaused {
			o.skipDelayLocked(s, fx)
		}
	}
}

// abandonLocked ends a game nobody is left to play. Scores of departed
// players are still reported.
func (o *Orchestrator) abandonLocked(s *Session, fx *effects) {
	if !s.finished && s.round > 0 {
		s.finished = true
		fx.finished = true
	}
	s.timer.Cancel()
	s.timer = nil
	s.question, s.expected = nil, nil
	fx.teardown = true
}

// MarkReady sets the player's ready flag and returns the session's ready
// count. Marking twice in the same direction is a no-op.
func (o *Orchestrator) MarkReady(sessionID, playerID uint64, ready bool) (int, error) {
	var count int
	err := o.mutate(sessionID, func(s *Session, fx *effects) error {
		p, _ := s.playerLocked(playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		p.Ready = ready
		count = s.readyCountLocked()

		switch s.status {
		case StatusWaitingArea:
			o.maybeTransferLocked(s, fx)
		case StatusStarted:
			if o.startReadyLocked(s) {
				fx.begin = true
			}
		case StatusPaused:
			o.skipDelayLocked(s, fx)
		}
		return nil
	})
	return count, err
}

func (o *Orchestrator) maybeTransferLocked(s *Session, fx *effects) {
	if !s.readyToTransferLocked() {
		return
	}
	// Players move in join order, at most one game's worth at a time. The
	// rest stay ready and follow once the waiting area recounts.
	batch := s.players
	if limit := s.rules.capacity(KindMultiplayer); limit > 0 && len(batch) > limit {
		batch = batch[:limit]
	}
	s.status = StatusTransferring
	fx.transfer = make([]Player, 0, len(batch))
	for _, p := range batch {
		fx.transfer = append(fx.transfer, p.clone())
	}
}

// startReadyLocked reports whether a session that has not begun should
// start on its own: everyone is ready, and multiplayer games have enough
// players.
func (o *Orchestrator) startReadyLocked(s *Session) bool {
	if s.generating || s.question != nil {
		return false
	}
	if s.kind == KindMultiplayer {
		return s.readyToTransferLocked()
	}
	return s.allReadyLocked()
}

// skipDelayLocked ends the result delay early once everyone is ready.
func (o *Orchestrator) skipDelayLocked(s *Session, fx *effects) {
	if !s.allReadyLocked() || s.generating || s.timer == nil {
		return
	}
	if s.timer.Cancel() {
		s.timer = nil
		o.advanceLocked(s, fx)
	}
}

func (o *Orchestrator) advanceLocked(s *Session, fx *effects) {
	if s.finished {
		fx.teardown = true
		return
	}
	fx.begin = true
}

// transfer moves the captured players from the waiting area into a new
// multiplayer session: remove from the waiting area first, then add.
func (o *Orchestrator) transfer(wa *Session, moving []Player) {
	game := o.registry.create(KindMultiplayer)

	var wfx effects
	wa.mu.Lock()
	moved := make([]Player, 0, len(moving))
	for _, p := range moving {
		if _, idx := wa.playerLocked(p.ID); idx >= 0 {
			moved = append(moved, wa.removePlayerLocked(idx))
		}
	}
	wa.status = StatusWaitingArea
	o.maybeTransferLocked(wa, &wfx)
	_ = o.commitLocked(wa, &wfx)
	wa.mu.Unlock()

	var gfx effects
	game.mu.Lock()
	for _, p := range moved {
		np := p.resetForGame()
		game.players = append(game.players, &np)
	}
	if len(moved) > 0 {
		gfx.begin = true
	} else {
		gfx.teardown = true
	}
	_ = o.commitLocked(game, &gfx)
	game.mu.Unlock()

	log.Info().
		Uint64("waiting_area_id", wa.id).
		Uint64("session_id", game.id).
		Int("players", len(moved)).
		Msg("players transferred to game")

	o.apply(game, gfx)
	o.apply(wa, wfx)
}

// StartSession begins the first round of a game session.
func (o *Orchestrator) StartSession(sessionID uint64) error {
	return o.mutate(sessionID, func(s *Session, fx *effects) error {
		if s.kind == KindWaitingArea || s.status != StatusStarted || s.generating || s.question != nil {
			return ErrWrongPhase
		}
		if len(s.players) == 0 {
			return ErrNoPlayers
		}
		fx.begin = true
		return nil
	})
}

// beginRound generates the next question outside the session lock and
// installs it if the session has not moved on in the meantime.
func (o *Orchestrator) beginRound(s *Session) {
	s.mu.Lock()
	if s.closed || s.generating || s.question != nil || (s.status != StatusStarted && s.status != StatusPaused) {
		s.mu.Unlock()
		return
	}
	if len(s.players) == 0 {
		s.mu.Unlock()
		log.Info().Uint64("session_id", s.id).Msg("no players left, tearing down session")
		o.teardown(s)
		return
	}
	s.generating = true
	epoch := s.epoch
	difficulty := s.difficulty
	first := int((s.id + uint64(s.round)) % uint64(len(question.Kinds)))
	s.mu.Unlock()

	q, key, err := o.generate(first, difficulty)

	var fx effects
	s.mu.Lock()
	if s.closed || !s.generating || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.generating = false
	switch {
	case len(s.players) == 0:
		o.abandonLocked(s, &fx)
	case err != nil:
		o.stallLocked(s, &fx, err)
	default:
		o.startRoundLocked(s, q, key)
	}
	_ = o.commitLocked(s, &fx)
	s.mu.Unlock()
	o.apply(s, fx)
}

// generate tries every question kind, starting at first, before giving up.
func (o *Orchestrator) generate(first, difficulty int) (question.Question, question.AnswerKey, error) {
	var errs []error
	for i := range question.Kinds {
		kind := question.Kinds[(first+i)%len(question.Kinds)]
		q, key, err := o.source.Generate(o.ctx, kind, difficulty)
		if err == nil {
			return q, key, nil
		}
		log.Warn().Err(err).Str("kind", kind.String()).Msg("question generation failed")
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if errors.Is(err, question.ErrEmptySource) {
		err = fmt.Errorf("%w: %w", ErrEmptyDataSource, err)
	}
	return question.Question{}, question.AnswerKey{}, err
}

func (o *Orchestrator) startRoundLocked(s *Session, q question.Question, key question.AnswerKey) {
	s.question, s.expected = &q, &key
	clear(s.answers)
	clear(s.evals)
	for _, p := range s.players {
		p.Answered, p.Doubled, p.Hidden, p.Ready, p.Hastened = false, false, nil, false, false
	}
	s.stalled = false
	s.retries = 0
	s.setBoost(0)
	s.status = StatusOngoing
	s.overtime = false

	d := o.rules.RoundDuration
	if s.kind == KindTimeAttack {
		d = s.budget
	}
	s.roundLength = d
	o.startTimerLocked(s, d, s.boostFactor, o.roundExpired)

	log.Debug().
		Uint64("session_id", s.id).
		Int("round", s.round+1).
		Str("question_kind", q.Kind.String()).
		Int("difficulty", s.difficulty).
		Dur("duration", d).
		Msg("round started")
}

// stallLocked schedules another generation attempt with doubling backoff,
// or tears the session down once retries are exhausted.
func (o *Orchestrator) stallLocked(s *Session, fx *effects, err error) {
	s.retries++
	s.stalled = true
	if s.retries > o.rules.MaxGenerationRetries {
		log.Error().Err(err).Uint64("session_id", s.id).Msg("question generation exhausted retries")
		o.abandonLocked(s, fx)
		return
	}
	backoff := o.rules.GenerationBackoff << (s.retries - 1)
	log.Warn().
		Err(err).
		Uint64("session_id", s.id).
		Int("attempt", s.retries).
		Dur("backoff", backoff).
		Msg("round stalled, retrying question generation")
	o.startTimerLocked(s, backoff, nil, o.retryElapsed)
}

func (o *Orchestrator) startTimerLocked(s *Session, d time.Duration, boost func() float64, fire func(*Session, uint64)) {
	s.epoch++
	epoch := s.epoch
	s.timer = roundtimer.Start(o.clock, roundtimer.Config{
		Duration: d,
		Tick:     o.rules.TimerTick,
		Boost:    boost,
	}, func() { fire(s, epoch) })
}

// roundExpired is the answer timer's completion. It enters the same lock as
// every other mutation; a stale epoch means the round already closed. When
// the boosted timer runs out while a DecreaseTime user still has unboosted
// time left, the round enters overtime for them instead of closing.
func (o *Orchestrator) roundExpired(s *Session, epoch uint64) {
	var fx effects
	s.mu.Lock()
	if s.closed || s.epoch != epoch || s.status != StatusOngoing {
		s.mu.Unlock()
		return
	}
	if rest := s.roundLength - s.timer.Ticked(); !s.overtime && rest > 0 && s.awaitingHastenedLocked() {
		s.overtime = true
		o.startTimerLocked(s, rest, nil, o.roundExpired)
		log.Debug().
			Uint64("session_id", s.id).
			Dur("overtime", rest).
			Msg("round in overtime for decrease time users")
		_ = o.commitLocked(s, &fx)
		s.mu.Unlock()
		o.apply(s, fx)
		return
	}
	o.closeRoundLocked(s, &fx)
	_ = o.commitLocked(s, &fx)
	s.mu.Unlock()
	o.apply(s, fx)
}

func (o *Orchestrator) delayElapsed(s *Session, epoch uint64) {
	var fx effects
	s.mu.Lock()
	if s.closed || s.epoch != epoch || s.status != StatusPaused {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	o.advanceLocked(s, &fx)
	s.mu.Unlock()
	o.apply(s, fx)
}

func (o *Orchestrator) retryElapsed(s *Session, epoch uint64) {
	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()
	o.beginRound(s)
}

// closeRoundLocked evaluates every current player, advances the round
// counter and mode state, and starts the result delay.
func (o *Orchestrator) closeRoundLocked(s *Session, fx *effects) {
	elapsed := o.rules.RoundDuration
	if s.timer != nil {
		elapsed = s.timer.Elapsed()
	}
	s.timer = nil
	key := *s.expected
	round := s.round + 1

	scored := false
	for _, p := range s.players {
		var ans *Answer
		if a, ok := s.answers[p.ID]; ok {
			ans = &a
		}
		points := Score(key, ans, s.difficulty, o.rules)
		if p.Doubled {
			points *= 2
		}
		p.Points += points
		scored = scored || points > 0

		ev := Evaluation{
			Round:    round,
			Kind:     key.Kind,
			Points:   points,
			Correct:  slices.Clone(key.Indices),
			Answered: ans != nil,
			Doubled:  p.Doubled,
		}
		if key.Kind == question.RangeGuess {
			ev.Expected = key.Value
		}
		s.evals[p.ID] = ev
		s.history = append(s.history, RoundRecord{Round: round, PlayerID: p.ID, Kind: key.Kind, Points: points})
		p.Answered, p.Doubled, p.Hidden, p.Ready, p.Hastened = false, false, nil, false, false
	}

	s.question, s.expected = nil, nil
	clear(s.answers)
	s.setBoost(0)
	s.overtime = false
	s.round = round

	switch s.kind {
	case KindSurvival:
		if !scored {
			s.lives--
		}
	case KindTimeAttack:
		s.budget -= elapsed
		if scored {
			s.budget += o.rules.TimeAttackBonus
		}
	}
	if step := o.rules.DifficultyStep; step > 0 && s.round%step == 0 && s.difficulty < o.rules.MaxDifficulty {
		s.difficulty++
	}
	s.status = StatusPaused

	if o.terminalLocked(s) {
		s.finished = true
		fx.finished = true
		for _, p := range s.players {
			p.Best = p.Best.Raise(s.kind, p.Points)
		}
	}
	o.startTimerLocked(s, o.rules.ResultDelay, nil, o.delayElapsed)

	log.Debug().
		Uint64("session_id", s.id).
		Int("round", round).
		Bool("finished", s.finished).
		Msg("round closed")
}

func (o *Orchestrator) terminalLocked(s *Session) bool {
	if limit := o.rules.roundLimit(s.kind); limit > 0 && s.round >= limit {
		return true
	}
	switch s.kind {
	case KindSurvival:
		return s.lives <= 0
	case KindTimeAttack:
		return s.budget <= 0
	}
	return false
}

// SubmitAnswer records the player's answer for the current round, replacing
// any earlier one. Once every player has answered the round closes early.
func (o *Orchestrator) SubmitAnswer(sessionID, playerID uint64, ans Answer) error {
	return o.mutate(sessionID, func(s *Session, fx *effects) error {
		if s.status != StatusOngoing || s.question == nil {
			return ErrNoActiveRound
		}
		p, _ := s.playerLocked(playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		if !s.answerableLocked(p) {
			return ErrNoActiveRound
		}
		if err := validateAnswer(*s.question, ans); err != nil {
			return err
		}
		s.answers[p.ID] = ans.clone()
		p.Answered = true
		// A failed Cancel means expiry won; roundExpired closes the round.
		if s.allSubmittedLocked() && s.timer.Cancel() {
			o.closeRoundLocked(s, fx)
		}
		return nil
	})
}

func validateAnswer(q question.Question, ans Answer) error {
	if ans.Kind != q.Kind {
		return fmt.Errorf("%w: expected a %s answer", ErrInvalidAnswer, q.Kind)
	}
	if q.Kind.HasOptions() {
		for _, i := range ans.Selected {
			if i < 0 || i >= len(q.Options) {
				return fmt.Errorf("%w: option %d out of range", ErrInvalidAnswer, i)
			}
		}
		return nil
	}
	if ans.Guess == nil || math.IsNaN(*ans.Guess) || math.IsInf(*ans.Guess, 0) {
		return fmt.Errorf("%w: a finite guess is required", ErrInvalidAnswer)
	}
	return nil
}

// FetchCurrentQuestion returns the live question without its answer key.
func (o *Orchestrator) FetchCurrentQuestion(sessionID uint64) (question.Question, error) {
	s, err := o.registry.lookup(sessionID)
	if err != nil {
		return question.Question{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return question.Question{}, ErrSessionNotFound
	}
	if s.status != StatusOngoing || s.question == nil {
		return question.Question{}, ErrNoActiveRound
	}
	return s.question.Clone(), nil
}

// Evaluate returns the player's result for the most recently closed round.
// Results stay available until the next round begins.
func (o *Orchestrator) Evaluate(sessionID, playerID uint64) (Evaluation, error) {
	s, err := o.registry.lookup(sessionID)
	if err != nil {
		return Evaluation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Evaluation{}, ErrSessionNotFound
	}
	if p, _ := s.playerLocked(playerID); p == nil {
		return Evaluation{}, ErrPlayerNotFound
	}
	ev, ok := s.evals[playerID]
	if !ok {
		return Evaluation{}, ErrNoEvaluation
	}
	ev.Correct = slices.Clone(ev.Correct)
	return ev, nil
}

// JokerResult describes the effect of an activated joker.
type JokerResult struct {
	Joker  Joker   `json:"joker"`
	Hidden *int    `json:"hidden,omitempty"`
	Boost  float64 `json:"boost,omitempty"`
}

// UseJoker activates a joker for the current round. Each joker can be used
// once per player per game.
func (o *Orchestrator) UseJoker(sessionID, playerID uint64, joker Joker) (JokerResult, error) {
	res := JokerResult{Joker: joker}
	err := o.mutate(sessionID, func(s *Session, fx *effects) error {
		if s.status != StatusOngoing || s.question == nil {
			return ErrNoActiveRound
		}
		p, _ := s.playerLocked(playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		if !s.answerableLocked(p) {
			return ErrNoActiveRound
		}
		if p.Jokers.Has(joker) {
			return ErrJokerUsed
		}

		switch joker {
		case JokerDoublePoints:
			p.Doubled = true
		case JokerRemoveOne:
			idx, err := o.pickHiddenLocked(s, p)
			if err != nil {
				return err
			}
			p.Hidden = append(p.Hidden, idx)
			res.Hidden = &idx
		case JokerDecreaseTime:
			if s.kind != KindMultiplayer {
				return fmt.Errorf("%w: decrease time needs opponents", ErrJokerNotAllowed)
			}
			res.Boost = s.boostFactor() + o.rules.DecreaseTimeBoost
			s.setBoost(res.Boost)
			p.Hastened = true
		default:
			return fmt.Errorf("%w: unknown joker %d", ErrInvalidInput, joker)
		}
		p.Jokers = p.Jokers.With(joker)
		return nil
	})
	if err != nil {
		return JokerResult{}, err
	}
	log.Info().
		Uint64("session_id", sessionID).
		Uint64("player_id", playerID).
		Str("joker", joker.String()).
		Msg("joker used")
	return res, nil
}

// pickHiddenLocked chooses an incorrect option the player still sees.
func (o *Orchestrator) pickHiddenLocked(s *Session, p *Player) (int, error) {
	if !s.question.Kind.HasOptions() {
		return 0, fmt.Errorf("%w: %s questions have no options", ErrJokerNotAllowed, s.question.Kind)
	}
	var candidates []int
	for i := range s.question.Options {
		if !slices.Contains(s.expected.Indices, i) && !slices.Contains(p.Hidden, i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0, fmt.Errorf("%w: no incorrect option left to remove", ErrJokerNotAllowed)
	}
	o.rngMu.Lock()
	idx := candidates[o.rng.IntN(len(candidates))]
	o.rngMu.Unlock()
	return idx, nil
}

// PlayAgain replaces a running or finishing game with a fresh session of the
// same kind holding the same players, and returns the new id. The old
// session's snapshot points at the new one through NextSessionID.
func (o *Orchestrator) PlayAgain(sessionID uint64) (uint64, error) {
	s, err := o.registry.lookup(sessionID)
	if err != nil {
		return 0, err
	}

	var fx effects
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return 0, ErrSessionNotFound
	case s.kind == KindWaitingArea || (s.status != StatusOngoing && s.status != StatusPaused):
		s.mu.Unlock()
		return 0, ErrWrongPhase
	case len(s.players) == 0:
		s.mu.Unlock()
		return 0, ErrNoPlayers
	}
	s.status = StatusPlayAgain
	s.timer.Cancel()
	s.timer = nil
	s.generating = false
	s.question, s.expected = nil, nil
	s.overtime = false
	if !s.finished && s.round > 0 {
		s.finished = true
		fx.finished = true
	}
	players := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p.resetForGame())
	}
	game := o.registry.create(s.kind)
	s.next = game.id
	_ = o.commitLocked(s, &fx)
	s.mu.Unlock()
	o.apply(s, fx)

	var gfx effects
	game.mu.Lock()
	for i := range players {
		game.players = append(game.players, &players[i])
	}
	gfx.begin = true
	_ = o.commitLocked(game, &gfx)
	game.mu.Unlock()

	log.Info().Uint64("session_id", sessionID).Uint64("next_session_id", game.id).Msg("play again")
	o.teardown(s)
	o.apply(game, gfx)
	return game.id, nil
}

// Poll waits until the session changes past version since, the session
// closes or ctx is done, and returns the snapshot at that point.
func (o *Orchestrator) Poll(ctx context.Context, sessionID, since uint64) (Snapshot, error) {
	s, err := o.registry.lookup(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.wait(ctx, since), nil
}
