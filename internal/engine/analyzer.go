package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corentings/chess/v2"
	"github.com/google/uuid"

	apperrors "github.com/vytor/ucibridge/internal/errors"
	"github.com/vytor/ucibridge/internal/logger"
	"github.com/vytor/ucibridge/internal/metrics"
	"github.com/vytor/ucibridge/internal/notation"
	"github.com/vytor/ucibridge/internal/uci"
	"github.com/vytor/ucibridge/internal/worker"
)

const (
	// DefaultMinMoveTime is the floor for a search budget after queueing.
	DefaultMinMoveTime = 250 * time.Millisecond
	// DefaultStallTimeout is added to the search budget before a silent
	// engine is declared broken.
	DefaultStallTimeout = 30 * time.Second
	// syncTimeout bounds the uciok/readyok handshakes.
	syncTimeout = 5 * time.Second
)

// AnalyzerState is Idle or Calculating.
type AnalyzerState int32

const (
	Idle AnalyzerState = iota
	Calculating
)

func (s AnalyzerState) String() string {
	if s == Calculating {
		return "calculating"
	}
	return "idle"
}

// CandidateMove is one principal variation's first move with its evaluation.
type CandidateMove struct {
	Rank    int // 1-based principal variation rank
	Move    notation.Move
	SAN     string
	Score   uci.Score
	Elapsed time.Duration // since the request was made
}

// Eval is the centipawn value, or uci.MateScore for a forced mate.
func (c CandidateMove) Eval() int {
	return c.Score.Value()
}

func (c CandidateMove) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Rank      int    `json:"rank"`
		UCI       string `json:"uci"`
		SAN       string `json:"san"`
		Eval      int    `json:"eval"`
		Mate      bool   `json:"mate"`
		ElapsedMS int64  `json:"elapsed_ms"`
	}{c.Rank, c.Move.UCI(), c.SAN, c.Eval(), c.Score.Mate, c.Elapsed.Milliseconds()})
}

// Analysis is the result of one request. Candidates are ordered by rank;
// ranks the engine never reported are absent.
type Analysis struct {
	RequestID  string
	SessionID  string
	FEN        string
	Lines      int
	Candidates []CandidateMove
	Waited     time.Duration // spent queued behind earlier requests
	Budget     time.Duration // movetime actually sent
	Elapsed    time.Duration // since the request was made, queueing included
}

// Options are forwarded to the engine and affect every later request.
// Zero values are left at the engine default.
type Options struct {
	Threads int
	HashMB  int
	Elo     int
}

// Executor runs analysis jobs asynchronously. *worker.Pool satisfies it.
type Executor interface {
	Submit(job worker.Job) error
}

type goExecutor struct{}

func (goExecutor) Submit(job worker.Job) error {
	go job.Run(context.Background())
	return nil
}

// Analyzer serialises analysis requests on a single Channel. Responses carry
// no request id, so a request owns the channel from its first command until
// bestmove.
type Analyzer struct {
	ch   Channel
	exec Executor
	log  *logger.Logger

	minMoveTime  time.Duration
	stallTimeout time.Duration

	turn    chan struct{} // one slot; holding it means Calculating
	state   atomic.Int32
	pending atomic.Int32

	mu     sync.Mutex
	broken error
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithExecutor runs requests on exec instead of one goroutine each.
func WithExecutor(exec Executor) AnalyzerOption {
	return func(a *Analyzer) {
		a.exec = exec
	}
}

// WithMinMoveTime overrides DefaultMinMoveTime.
func WithMinMoveTime(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		a.minMoveTime = d
	}
}

// WithStallTimeout overrides DefaultStallTimeout.
func WithStallTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		a.stallTimeout = d
	}
}

// NewAnalyzer wraps ch. ch must not be used by anything else afterwards.
func NewAnalyzer(ch Channel, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		ch:           ch,
		exec:         goExecutor{},
		minMoveTime:  DefaultMinMoveTime,
		stallTimeout: DefaultStallTimeout,
		turn:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logger.Default().WithPrefix("analyzer").WithField("session", ch.ID())
	return a
}

// State reports whether a request currently owns the channel.
func (a *Analyzer) State() AnalyzerState {
	return AnalyzerState(a.state.Load())
}

// Pending is the number of accepted requests not yet finished.
func (a *Analyzer) Pending() int {
	return int(a.pending.Load())
}

// Err returns the channel failure that made the analyzer unusable, if any.
func (a *Analyzer) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.broken
}

func (a *Analyzer) markBroken(err error) {
	a.mu.Lock()
	if a.broken == nil {
		a.broken = err
	}
	a.mu.Unlock()
}

// acquire blocks until the channel is idle. Waiters are served roughly in
// arrival order.
func (a *Analyzer) acquire(ctx context.Context) error {
	select {
	case a.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := a.Err(); err != nil {
		<-a.turn
		return err
	}
	a.state.Store(int32(Calculating))
	return nil
}

func (a *Analyzer) release() {
	a.state.Store(int32(Idle))
	<-a.turn
}

// Handshake performs the uci/uciok and isready/readyok exchange.
func (a *Analyzer) Handshake(ctx context.Context) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	defer a.release()

	if err := a.ch.Send(uci.UCI); err != nil {
		return a.fail(err)
	}
	if err := a.waitFor(ctx, uci.TokenUCIOK, syncTimeout); err != nil {
		return a.fail(err)
	}
	if _, err := a.ch.ReadUntil(ctx, uci.TokenReadyOK, syncTimeout); err != nil {
		return a.fail(err)
	}
	a.log.Debug("handshake complete")
	return nil
}

// Configure forwards thread count, hash size and playing strength. A rating
// switches on UCI_LimitStrength before setting UCI_Elo.
func (a *Analyzer) Configure(ctx context.Context, opts Options) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	defer a.release()

	var cmds []string
	if opts.Threads > 0 {
		cmds = append(cmds, uci.SetThreads(opts.Threads))
	}
	if opts.HashMB > 0 {
		cmds = append(cmds, uci.SetHash(opts.HashMB))
	}
	if opts.Elo > 0 {
		cmds = append(cmds, uci.LimitStrength(), uci.SetElo(opts.Elo))
	}
	for _, cmd := range cmds {
		if err := a.ch.Send(cmd); err != nil {
			return a.fail(err)
		}
	}
	if _, err := a.ch.ReadUntil(ctx, uci.TokenReadyOK, syncTimeout); err != nil {
		return a.fail(err)
	}
	a.log.Info("options set -> threads: %d, hash: %d, elo: %d", opts.Threads, opts.HashMB, opts.Elo)
	return nil
}

func (a *Analyzer) waitFor(ctx context.Context, token string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		line, err := a.ch.ReadLine(ctx)
		if err != nil {
			return err
		}
		if uci.HasPrefixFold(line, token) {
			return nil
		}
	}
}

// fail marks the analyzer unusable when err is a transport failure.
func (a *Analyzer) fail(err error) error {
	if !apperrors.HasCode(err, apperrors.ErrCodeChannel) {
		err = apperrors.NewChannelError("sync", err)
	}
	a.markBroken(err)
	a.log.Error("engine channel failed: %v", err)
	return err
}

// RequestBestMoves asks for the best lines in fen. The search budget is
// moveTime less the time spent waiting for the channel, never below the
// minimum move time. ctx bounds only the wait for the channel; once
// commands are sent the request runs to bestmove.
func (a *Analyzer) RequestBestMoves(ctx context.Context, fen string, lines int, moveTime time.Duration) *Future[Analysis] {
	if lines < 1 {
		metrics.AnalysesTotal.WithLabelValues("rejected").Inc()
		return failed[Analysis](apperrors.NewValidationError("lines", "must be at least 1"))
	}
	pos, err := notation.PositionFromFEN(fen)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("rejected").Inc()
		return failed[Analysis](err)
	}
	if err := a.Err(); err != nil {
		metrics.AnalysesTotal.WithLabelValues("channel_error").Inc()
		return failed[Analysis](err)
	}

	job := &analysisJob{
		analyzer: a,
		ctx:      ctx,
		id:       uuid.NewString(),
		fen:      fen,
		pos:      pos,
		lines:    lines,
		moveTime: moveTime,
		queued:   time.Now(),
		future:   newFuture[Analysis](),
	}
	a.pending.Add(1)
	if err := a.exec.Submit(job); err != nil {
		job.Abort(err)
	}
	return job.future
}

// RequestBestMove asks for the single best move in fen.
func (a *Analyzer) RequestBestMove(ctx context.Context, fen string, moveTime time.Duration) *Future[CandidateMove] {
	return then(a.RequestBestMoves(ctx, fen, 1, moveTime), func(res Analysis) (CandidateMove, error) {
		if len(res.Candidates) == 0 {
			return CandidateMove{}, apperrors.NewAnalysisError("engine produced no candidate move", nil)
		}
		return res.Candidates[0], nil
	})
}

type analysisJob struct {
	analyzer *Analyzer
	ctx      context.Context
	id       string
	fen      string
	pos      *chess.Position
	lines    int
	moveTime time.Duration
	queued   time.Time
	future   *Future[Analysis]
}

func (j *analysisJob) Name() string { return "analysis:" + j.id }

// Abort resolves a job that will never run.
func (j *analysisJob) Abort(err error) {
	j.analyzer.pending.Add(-1)
	metrics.AnalysesTotal.WithLabelValues("rejected").Inc()
	j.future.resolve(Analysis{}, apperrors.NewAnalysisError("analysis request not run", err))
}

func (j *analysisJob) Run(context.Context) error {
	defer j.analyzer.pending.Add(-1)
	res, err := j.analyzer.analyze(j)
	j.future.resolve(res, err)
	return err
}

func (a *Analyzer) analyze(j *analysisJob) (Analysis, error) {
	log := a.log.WithField("request", j.id)

	if err := a.acquire(j.ctx); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeChannel) {
			metrics.AnalysesTotal.WithLabelValues("channel_error").Inc()
			return Analysis{}, err
		}
		metrics.AnalysesTotal.WithLabelValues("rejected").Inc()
		return Analysis{}, apperrors.NewAnalysisError("gave up waiting for engine", err)
	}
	defer a.release()

	waited := time.Since(j.queued)
	budget := j.moveTime - waited
	if budget < a.minMoveTime {
		budget = a.minMoveTime
	}
	metrics.AnalysisQueueWait.Observe(waited.Seconds())
	log.Debug("analysing %d lines for %v after waiting %v", j.lines, budget, waited)

	res := Analysis{
		RequestID: j.id,
		SessionID: a.ch.ID(),
		FEN:       j.fen,
		Lines:     j.lines,
		Waited:    waited,
		Budget:    budget,
	}

	start := time.Now()
	for _, cmd := range []string{uci.Position(j.fen), uci.SetMultiPV(j.lines), uci.GoMoveTime(budget.Milliseconds())} {
		if err := a.ch.Send(cmd); err != nil {
			metrics.AnalysesTotal.WithLabelValues("channel_error").Inc()
			return res, a.fail(err)
		}
	}

	// Not derived from j.ctx: abandoning a search mid-stream would leave
	// its output to be read by the next request.
	readCtx, cancel := context.WithTimeout(context.Background(), budget+a.stallTimeout)
	defer cancel()

	slots := make([]*CandidateMove, j.lines)
	for {
		line, err := a.ch.ReadLine(readCtx)
		if err != nil {
			metrics.AnalysesTotal.WithLabelValues("channel_error").Inc()
			return res, a.fail(err)
		}

		switch ev := uci.Decode(line).(type) {
		case uci.InfoUpdate:
			if !ev.HasScore || ev.MultiPV > j.lines {
				continue
			}
			m, err := notation.ParseUCI(ev.Move, j.pos.Turn())
			if err != nil {
				log.Warn("skipping unreadable pv move %q", ev.Move)
				continue
			}
			san, err := notation.Encode(j.pos, m)
			if err != nil {
				log.Warn("skipping illegal pv move %s", ev.Move)
				continue
			}
			slots[ev.MultiPV-1] = &CandidateMove{
				Rank:    ev.MultiPV,
				Move:    m,
				SAN:     san,
				Score:   ev.Score,
				Elapsed: time.Since(j.queued),
			}
		case uci.BestMove:
			res.Elapsed = time.Since(j.queued)
			metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
			for _, c := range slots {
				if c != nil {
					res.Candidates = append(res.Candidates, *c)
				}
			}
			outcome := "ok"
			if len(res.Candidates) == 0 {
				outcome = "empty"
			}
			metrics.AnalysesTotal.WithLabelValues(outcome).Inc()
			log.Debug("bestmove %s, %d candidates in %v", ev.Move, len(res.Candidates), res.Elapsed)
			return res, nil
		}
	}
}

// Board has the engine print fen and returns what it printed, without the
// trailing readyok. Engines that do not know "d" return an empty string.
func (a *Analyzer) Board(ctx context.Context, fen string) (string, error) {
	if _, err := notation.PositionFromFEN(fen); err != nil {
		return "", err
	}
	if err := a.acquire(ctx); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeChannel) {
			return "", err
		}
		return "", apperrors.NewAnalysisError("gave up waiting for engine", err)
	}
	defer a.release()

	for _, cmd := range []string{uci.Position(fen), uci.Display} {
		if err := a.ch.Send(cmd); err != nil {
			return "", a.fail(err)
		}
	}
	out, err := a.ch.ReadUntil(context.Background(), uci.TokenReadyOK, syncTimeout)
	if err != nil {
		return "", a.fail(err)
	}
	rows := strings.Split(strings.TrimRight(out, "\n"), "\n")
	return strings.Join(rows[:len(rows)-1], "\n"), nil
}

func (a *Analyzer) String() string {
	return fmt.Sprintf("analyzer(%s, %s, pending=%d)", a.ch.ID(), a.State(), a.Pending())
}
