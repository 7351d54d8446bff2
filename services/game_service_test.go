package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energyquiz/session"
)

func TestGameService_JoinLoadsBestScoresAndIssuesSeat(t *testing.T) {
	scores := &fakeScores{best: map[string]session.BestScores{"Alice": {Survival: 700}}}
	seats := NewSeatIssuer("secret", time.Hour)
	st := newStack(t, WithScoreStore(scores), WithSeatIssuer(seats))

	res, err := st.svc.Join(context.Background(), st.svc.WaitingAreaID(), &JoinSessionRequest{Username: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, 700, res.Player.Best.Survival)
	require.NotEmpty(t, res.Token)

	claims, err := st.svc.VerifySeat(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Player.ID, claims.PlayerID)
}

func TestGameService_JoinSurvivesScoreStoreFailure(t *testing.T) {
	st := newStack(t, WithScoreStore(&fakeScores{err: errors.New("db down")}))

	res, err := st.svc.Join(context.Background(), st.svc.WaitingAreaID(), &JoinSessionRequest{Username: "Bob"})
	require.NoError(t, err)
	assert.Zero(t, res.Player.Best)
	assert.Empty(t, res.Token)
}

func TestGameService_JoinRejectsInvalidNames(t *testing.T) {
	st := newStack(t)

	_, err := st.svc.Join(context.Background(), st.svc.WaitingAreaID(), &JoinSessionRequest{Username: "no spaces"})
	assert.ErrorIs(t, err, session.ErrInvalidUsername)
}

func TestGameService_CreateParsesKind(t *testing.T) {
	st := newStack(t)

	snap, err := st.svc.Create(&CreateSessionRequest{Kind: "survival"})
	require.NoError(t, err)
	assert.Equal(t, session.KindSurvival, snap.Kind)

	_, err = st.svc.Create(&CreateSessionRequest{Kind: "waiting_area"})
	assert.ErrorIs(t, err, session.ErrInvalidKind)
	_, err = st.svc.Create(&CreateSessionRequest{Kind: "chess"})
	assert.ErrorIs(t, err, session.ErrInvalidKind)
}

func TestGameService_SubmitAnswerInfersKind(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	snap, err := st.svc.Create(&CreateSessionRequest{Kind: "singleplayer"})
	require.NoError(t, err)
	res, err := st.svc.Join(ctx, snap.ID, &JoinSessionRequest{Username: "Solo"})
	require.NoError(t, err)

	_, err = st.svc.Start(snap.ID)
	require.NoError(t, err)
	q, err := st.svc.CurrentQuestion(snap.ID)
	require.NoError(t, err)

	require.NoError(t, st.svc.SubmitAnswer(snap.ID, res.Player.ID, answerFor(q)))

	ev, err := st.svc.Evaluate(snap.ID, res.Player.ID)
	require.NoError(t, err)
	assert.True(t, ev.Answered)
	assert.Equal(t, q.Kind, ev.Kind)

	_, err = st.svc.CurrentQuestion(snap.ID)
	assert.ErrorIs(t, err, session.ErrNoActiveRound)
}

func TestGameService_SubmitAnswerRejectsUnknownKind(t *testing.T) {
	st := newStack(t)

	err := st.svc.SubmitAnswer(st.svc.WaitingAreaID(), 1, &SubmitAnswerRequest{Kind: "essay"})
	assert.ErrorIs(t, err, session.ErrInvalidAnswer)
}

func TestGameService_UseJokerParsesName(t *testing.T) {
	st := newStack(t)

	_, err := st.svc.UseJoker(st.svc.WaitingAreaID(), 1, &UseJokerRequest{Joker: "skip_round"})
	assert.ErrorIs(t, err, session.ErrInvalidInput)
}

func TestGameService_MarkReadyDefaultsToReady(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	wa := st.svc.WaitingAreaID()

	res, err := st.svc.Join(ctx, wa, &JoinSessionRequest{Username: "Alice"})
	require.NoError(t, err)

	count, err := st.svc.MarkReady(wa, res.Player.ID, &ReadyRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	notReady := false
	count, err = st.svc.MarkReady(wa, res.Player.ID, &ReadyRequest{Ready: &notReady})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGameService_GetFallsBackToMirror(t *testing.T) {
	mirror := &fakeSnapshots{last: map[uint64]session.Snapshot{}}
	st := newStack(t, WithSnapshotReader(mirror))

	snap, err := st.svc.Create(&CreateSessionRequest{Kind: "multiplayer"})
	require.NoError(t, err)
	final, err := st.orch.Registry().Remove(snap.ID)
	require.NoError(t, err)
	final.Closed = false
	mirror.last[snap.ID] = final

	got, err := st.svc.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
	assert.True(t, got.Closed)

	_, err = st.svc.Get(context.Background(), 9999)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestGameService_Leaderboard(t *testing.T) {
	st := newStack(t)
	_, err := st.svc.Leaderboard(context.Background(), "survival", 5)
	assert.ErrorIs(t, err, ErrUnavailable)

	mirror := &fakeSnapshots{board: []LeaderboardEntry{{"alice", 900}, {"bob", 400}}}
	st = newStack(t, WithSnapshotReader(mirror))

	entries, err := st.svc.Leaderboard(context.Background(), "survival", 1)
	require.NoError(t, err)
	assert.Equal(t, []LeaderboardEntry{{"alice", 900}}, entries)

	_, err = st.svc.Leaderboard(context.Background(), "bogus", 1)
	assert.ErrorIs(t, err, session.ErrInvalidKind)
}

func TestGameService_PollTimesOutWithCurrentSnapshot(t *testing.T) {
	st := newStack(t, WithPollTimeout(20*time.Millisecond))
	wa := st.svc.WaitingAreaID()

	current, err := st.svc.Get(context.Background(), wa)
	require.NoError(t, err)

	snap, err := st.svc.Poll(context.Background(), wa, current.Version)
	require.NoError(t, err)
	assert.Equal(t, current.Version, snap.Version)
}

func TestResultRecorder(t *testing.T) {
	scores := &fakeScores{}
	rec := NewResultRecorder(scores)

	snap := session.Snapshot{ID: 4, Kind: session.KindSurvival, Round: 3}
	rec.SessionChanged(context.Background(), snap)
	rec.SessionFinished(context.Background(), snap)
	rec.SessionRemoved(context.Background(), snap)

	require.Len(t, scores.recorded, 1)
	assert.Equal(t, uint64(4), scores.recorded[0].ID)
}
