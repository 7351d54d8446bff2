package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"energyquiz/question"
	"energyquiz/session"
)

var ErrUnavailable = errors.New("backing store not configured")

// ScoreStore loads and records durable player results.
type ScoreStore interface {
	BestScores(ctx context.Context, username string) (session.BestScores, error)
	RecordGame(ctx context.Context, snap session.Snapshot) error
}

// SnapshotReader serves mirrored snapshots and leaderboards.
type SnapshotReader interface {
	Last(ctx context.Context, id uint64) (session.Snapshot, error)
	Leaderboard(ctx context.Context, kind session.Kind, n int) ([]LeaderboardEntry, error)
}

// GameService is the transport-facing API over the session orchestrator.
type GameService struct {
	orch        *session.Orchestrator
	scores      ScoreStore
	snapshots   SnapshotReader
	seats       *SeatIssuer
	pollTimeout time.Duration
}

type GameServiceOption func(*GameService)

func WithScoreStore(store ScoreStore) GameServiceOption {
	return func(s *GameService) { s.scores = store }
}

func WithSnapshotReader(r SnapshotReader) GameServiceOption {
	return func(s *GameService) { s.snapshots = r }
}

func WithSeatIssuer(issuer *SeatIssuer) GameServiceOption {
	return func(s *GameService) { s.seats = issuer }
}

func WithPollTimeout(d time.Duration) GameServiceOption {
	return func(s *GameService) { s.pollTimeout = d }
}

func NewGameService(orch *session.Orchestrator, opts ...GameServiceOption) *GameService {
	s := &GameService{orch: orch, pollTimeout: 25 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateSessionRequest struct {
	Kind string `json:"kind" binding:"required"`
}

type JoinSessionRequest struct {
	Username string `json:"username" binding:"required"`
}

type ReadyRequest struct {
	Ready *bool `json:"ready"`
}

type SubmitAnswerRequest struct {
	Kind     string   `json:"kind"`
	Selected []int    `json:"selected"`
	Guess    *float64 `json:"guess"`
}

type UseJokerRequest struct {
	Joker string `json:"joker" binding:"required"`
}

// JoinResult is returned to a player that joined a session. Token is empty
// when no seat issuer is configured.
type JoinResult struct {
	SessionID uint64         `json:"session_id"`
	Player    session.Player `json:"player"`
	Token     string         `json:"token,omitempty"`
}

func (s *GameService) WaitingAreaID() uint64 {
	return s.orch.WaitingAreaID()
}

func (s *GameService) Create(req *CreateSessionRequest) (session.Snapshot, error) {
	kind, err := session.ParseKind(req.Kind)
	if err != nil {
		return session.Snapshot{}, err
	}
	id, err := s.orch.CreateSession(kind)
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.orch.GetSession(id)
}

// Get returns the live snapshot, falling back to the last mirrored one for
// sessions that were already torn down.
func (s *GameService) Get(ctx context.Context, id uint64) (session.Snapshot, error) {
	snap, err := s.orch.GetSession(id)
	if err == nil || !errors.Is(err, session.ErrNotFound) || s.snapshots == nil {
		return snap, err
	}
	last, lerr := s.snapshots.Last(ctx, id)
	if lerr != nil {
		if !errors.Is(lerr, session.ErrNotFound) {
			log.Warn().Err(lerr).Uint64("session_id", id).Msg("snapshot fallback failed")
		}
		return session.Snapshot{}, err
	}
	last.Closed = true
	return last, nil
}

func (s *GameService) List() []session.Snapshot {
	return s.orch.ListSessions()
}

func (s *GameService) Locate(playerID uint64) (uint64, error) {
	return s.orch.LocatePlayer(playerID)
}

// Join adds username to a session with its stored best scores. A failing
// score store does not block joining.
func (s *GameService) Join(ctx context.Context, sessionID uint64, req *JoinSessionRequest) (*JoinResult, error) {
	var best session.BestScores
	if s.scores != nil {
		var err error
		best, err = s.scores.BestScores(ctx, req.Username)
		if err != nil {
			log.Warn().Err(err).Str("username", req.Username).Msg("best scores unavailable")
		}
	}

	p, err := s.orch.AddPlayer(sessionID, req.Username, best)
	if err != nil {
		return nil, err
	}
	res := &JoinResult{SessionID: sessionID, Player: p}
	if s.seats != nil {
		res.Token, err = s.seats.Issue(p.ID, p.Username)
		if err != nil {
			// Undo the join so the name is free for a retry.
			_, _ = s.orch.RemovePlayer(sessionID, p.ID)
			return nil, err
		}
	}
	return res, nil
}

func (s *GameService) Leave(sessionID, playerID uint64) (session.Player, error) {
	return s.orch.RemovePlayer(sessionID, playerID)
}

func (s *GameService) MarkReady(sessionID, playerID uint64, req *ReadyRequest) (int, error) {
	ready := true
	if req != nil && req.Ready != nil {
		ready = *req.Ready
	}
	return s.orch.MarkReady(sessionID, playerID, ready)
}

func (s *GameService) Start(sessionID uint64) (session.Snapshot, error) {
	if err := s.orch.StartSession(sessionID); err != nil {
		return session.Snapshot{}, err
	}
	return s.orch.GetSession(sessionID)
}

func (s *GameService) CurrentQuestion(sessionID uint64) (question.Question, error) {
	return s.orch.FetchCurrentQuestion(sessionID)
}

// SubmitAnswer records an answer. Without an explicit kind the answer is
// taken to be for the live question.
func (s *GameService) SubmitAnswer(sessionID, playerID uint64, req *SubmitAnswerRequest) error {
	ans := session.Answer{Selected: req.Selected, Guess: req.Guess}
	if req.Kind != "" {
		kind, err := question.ParseKind(req.Kind)
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrInvalidAnswer, err)
		}
		ans.Kind = kind
	} else {
		q, err := s.orch.FetchCurrentQuestion(sessionID)
		if err != nil {
			return err
		}
		ans.Kind = q.Kind
	}
	return s.orch.SubmitAnswer(sessionID, playerID, ans)
}

func (s *GameService) Evaluate(sessionID, playerID uint64) (session.Evaluation, error) {
	return s.orch.Evaluate(sessionID, playerID)
}

func (s *GameService) UseJoker(sessionID, playerID uint64, req *UseJokerRequest) (session.JokerResult, error) {
	joker, err := session.ParseJoker(req.Joker)
	if err != nil {
		return session.JokerResult{}, err
	}
	return s.orch.UseJoker(sessionID, playerID, joker)
}

func (s *GameService) PlayAgain(sessionID uint64) (session.Snapshot, error) {
	next, err := s.orch.PlayAgain(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.orch.GetSession(next)
}

// Poll blocks until the session moves past version since or the poll
// timeout passes, then returns the current snapshot.
func (s *GameService) Poll(ctx context.Context, sessionID, since uint64) (session.Snapshot, error) {
	if s.pollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pollTimeout)
		defer cancel()
	}
	return s.orch.Poll(ctx, sessionID, since)
}

func (s *GameService) Leaderboard(ctx context.Context, kind string, n int) ([]LeaderboardEntry, error) {
	k, err := session.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return nil, ErrUnavailable
	}
	return s.snapshots.Leaderboard(ctx, k, n)
}

// VerifySeat checks a seat token. Without an issuer every token is
// rejected.
func (s *GameService) VerifySeat(token string) (*SeatClaims, error) {
	if s.seats == nil {
		return nil, ErrInvalidSeat
	}
	return s.seats.Verify(token)
}

// ResultRecorder stores every finished game in a ScoreStore.
type ResultRecorder struct {
	session.Notifier
	store ScoreStore
}

func NewResultRecorder(store ScoreStore) *ResultRecorder {
	return &ResultRecorder{Notifier: nopNotifier{}, store: store}
}

func (r *ResultRecorder) SessionFinished(ctx context.Context, snap session.Snapshot) {
	if err := r.store.RecordGame(ctx, snap); err != nil {
		log.Error().Err(err).Uint64("session_id", snap.ID).Msg("failed to record game")
		return
	}
	log.Info().
		Uint64("session_id", snap.ID).
		Str("kind", snap.Kind.String()).
		Int("players", len(snap.Players)+len(snap.RemovedPlayers)).
		Msg("game recorded")
}

type nopNotifier struct{}

func (nopNotifier) SessionChanged(context.Context, session.Snapshot)  {}
func (nopNotifier) SessionFinished(context.Context, session.Snapshot) {}
func (nopNotifier) SessionRemoved(context.Context, session.Snapshot)  {}
