package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/vytor/ucibridge/internal/errors"
	"github.com/vytor/ucibridge/internal/logger"
)

var (
	// ErrPoolClosed is returned once Close has been called.
	ErrPoolClosed = errors.New("engine pool closed")
	// ErrNoSession means every session is broken and being replaced.
	ErrNoSession = errors.New("no engine session available")
)

// Launcher starts one running session. The default launches PoolConfig.Path.
type Launcher func() (*Session, error)

// PoolConfig describes a set of identical engine sessions.
type PoolConfig struct {
	Path         string
	Args         []string
	Size         int
	GracePeriod  time.Duration
	MinMoveTime  time.Duration
	StallTimeout time.Duration
	Options      Options
	Executor     Executor
	Launch       Launcher
}

type member struct {
	session  *Session
	analyzer *Analyzer
}

// Pool spreads requests over several engine sessions, one Analyzer each.
type Pool struct {
	cfg PoolConfig
	log *logger.Logger

	mu       sync.Mutex
	members  []*member
	reviving []bool // slot has a replacement launching
	closed   bool
	wg       sync.WaitGroup // background replacements and retired sessions
}

// NewPool starts cfg.Size sessions concurrently, handshakes and configures
// each. If any fails, the ones already started are stopped.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if cfg.Size <= 0 {
		cfg.Size = 2
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	p := &Pool{
		cfg:      cfg,
		log:      logger.Default().WithPrefix("engine-pool"),
		members:  make([]*member, cfg.Size),
		reviving: make([]bool, cfg.Size),
	}
	if p.cfg.Launch == nil {
		p.cfg.Launch = func() (*Session, error) {
			return Start(cfg.Path, WithArgs(cfg.Args...), WithGracePeriod(cfg.GracePeriod))
		}
	}

	p.log.Info("initializing engine pool with %d sessions", cfg.Size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range p.members {
		g.Go(func() error {
			m, err := p.launch(gctx)
			if err != nil {
				return err
			}
			p.members[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.Close()
		return nil, err
	}
	p.log.Info("engine pool ready")
	return p, nil
}

func (p *Pool) launch(ctx context.Context) (*member, error) {
	s, err := p.cfg.Launch()
	if err != nil {
		return nil, err
	}

	var opts []AnalyzerOption
	if p.cfg.Executor != nil {
		opts = append(opts, WithExecutor(p.cfg.Executor))
	}
	if p.cfg.MinMoveTime > 0 {
		opts = append(opts, WithMinMoveTime(p.cfg.MinMoveTime))
	}
	if p.cfg.StallTimeout > 0 {
		opts = append(opts, WithStallTimeout(p.cfg.StallTimeout))
	}
	a := NewAnalyzer(s, opts...)

	if err := a.Handshake(ctx); err != nil {
		s.Stop()
		return nil, apperrors.NewStartError(p.cfg.Path, err)
	}
	if p.cfg.Options != (Options{}) {
		if err := a.Configure(ctx, p.cfg.Options); err != nil {
			s.Stop()
			return nil, apperrors.NewStartError(p.cfg.Path, err)
		}
	}
	return &member{session: s, analyzer: a}, nil
}

// pick returns the healthy analyzer with the fewest pending requests.
// Broken sessions are replaced outside the lock: in the background while a
// healthy session remains, otherwise before returning.
func (p *Pool) pick(ctx context.Context) (*Analyzer, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	var best *Analyzer
	var stale []int
	for i, m := range p.members {
		if m != nil && m.analyzer.Err() == nil {
			if best == nil || m.analyzer.Pending() < best.Pending() {
				best = m.analyzer
			}
			continue
		}
		if !p.reviving[i] {
			p.retire(i)
			p.reviving[i] = true
			stale = append(stale, i)
		}
	}
	if best != nil {
		for _, i := range stale {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				_, _ = p.revive(context.Background(), i)
			}()
		}
		p.mu.Unlock()
		return best, nil
	}
	p.mu.Unlock()

	var lastErr error = apperrors.NewChannelError("pick", ErrNoSession)
	for _, i := range stale {
		m, err := p.revive(ctx, i)
		if err != nil {
			lastErr = err
			continue
		}
		if best == nil || m.analyzer.Pending() < best.Pending() {
			best = m.analyzer
		}
	}
	if best == nil {
		return nil, lastErr
	}
	return best, nil
}

// retire drops member i and stops its session. Callers hold p.mu.
func (p *Pool) retire(i int) {
	old := p.members[i]
	if old == nil {
		return
	}
	p.log.Warn("replacing engine session %s: %v", old.session.ID(), old.analyzer.Err())
	p.members[i] = nil
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		old.session.Stop()
	}()
}

// revive launches a replacement for slot i. Callers must not hold p.mu.
func (p *Pool) revive(ctx context.Context, i int) (*member, error) {
	m, err := p.launch(ctx)

	p.mu.Lock()
	p.reviving[i] = false
	closed := p.closed
	if err == nil && !closed {
		p.members[i] = m
	}
	p.mu.Unlock()

	switch {
	case err != nil:
		p.log.Error("failed to restart engine session: %v", err)
		return nil, err
	case closed:
		m.session.Stop()
		return nil, ErrPoolClosed
	}
	p.log.Info("engine session %s replaced", m.session.ID())
	return m, nil
}

// Analyze runs RequestBestMoves on the least-loaded session.
func (p *Pool) Analyze(ctx context.Context, fen string, lines int, moveTime time.Duration) *Future[Analysis] {
	a, err := p.pick(ctx)
	if err != nil {
		return failed[Analysis](err)
	}
	return a.RequestBestMoves(ctx, fen, lines, moveTime)
}

// BestMove runs RequestBestMove on the least-loaded session.
func (p *Pool) BestMove(ctx context.Context, fen string, moveTime time.Duration) *Future[CandidateMove] {
	a, err := p.pick(ctx)
	if err != nil {
		return failed[CandidateMove](err)
	}
	return a.RequestBestMove(ctx, fen, moveTime)
}

// Board has the least-loaded session print fen.
func (p *Pool) Board(ctx context.Context, fen string) (string, error) {
	a, err := p.pick(ctx)
	if err != nil {
		return "", err
	}
	return a.Board(ctx, fen)
}

// Size is the configured number of sessions.
func (p *Pool) Size() int {
	return p.cfg.Size
}

// Available returns how many sessions are healthy and idle.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.members {
		if m != nil && m.analyzer.Err() == nil && m.analyzer.State() == Idle {
			n++
		}
	}
	return n
}

// Healthy returns how many sessions can accept requests.
func (p *Pool) Healthy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.members {
		if m != nil && m.analyzer.Err() == nil {
			n++
		}
	}
	return n
}

// Close stops every session. Requests in flight fail with a channel error.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	members := p.members
	p.members = nil
	p.mu.Unlock()

	p.log.Info("closing engine pool")
	var g errgroup.Group
	for _, m := range members {
		if m == nil {
			continue
		}
		g.Go(func() error {
			m.session.Stop()
			return nil
		})
	}
	_ = g.Wait()
	p.wg.Wait()
	p.log.Info("engine pool closed")
}
