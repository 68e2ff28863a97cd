// Package fakeuci is a minimal UCI engine for tests. It knows the rules of
// chess through the rules library but does not search: every legal move is
// reported as a line, mates first, then in generation order.
package fakeuci

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/corentings/chess/v2"

	"github.com/vytor/ucibridge/internal/notation"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Engine is the fake's configuration and its record of what it was sent.
type Engine struct {
	// SearchTime caps how long a search runs. Zero means honour movetime.
	SearchTime time.Duration
	// IgnoreQuit keeps the engine alive after quit until its input closes.
	IgnoreQuit bool
	// Silent makes searches run forever without output.
	Silent bool

	mu         sync.Mutex
	commands   []string
	violations []string
	searches   int
	active     int
	maxActive  int
}

// Commands returns every line received, in order.
func (e *Engine) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// Violations lists commands that arrived while a search was running.
func (e *Engine) Violations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.violations...)
}

// Searches is the number of go commands served.
func (e *Engine) Searches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.searches
}

// MovetimesSent returns the movetime argument of each go command.
func (e *Engine) MovetimesSent() []int {
	var out []int
	for _, c := range e.Commands() {
		f := strings.Fields(c)
		if len(f) == 3 && f[0] == "go" && f[1] == "movetime" {
			n, _ := strconv.Atoi(f[2])
			out = append(out, n)
		}
	}
	return out
}

func (e *Engine) record(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, line)
	if e.active > 0 && line != "stop" && line != "isready" {
		e.violations = append(e.violations, line)
	}
}

// Serve speaks UCI on in/out until quit or until in is exhausted.
func (e *Engine) Serve(in io.Reader, out io.Writer) error {
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-stop:
				return
			}
		}
	}()

	w := &writer{out: out}
	var (
		pos      = mustPosition(startFEN)
		multiPV  = 1
		finished chan struct{}
		quit     bool
	)

	for {
		var searchDone <-chan struct{}
		if finished != nil {
			searchDone = finished
		}

		select {
		case <-searchDone:
			finished = nil
			continue
		case line, ok := <-lines:
			if !ok {
				if finished != nil {
					<-finished
				}
				return w.err
			}
			e.record(line)
			if quit {
				continue
			}

			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			switch fields[0] {
			case "uci":
				w.println("id name fakeuci")
				w.println("id author ucibridge")
				w.println("option name MultiPV type spin default 1 min 1 max 500")
				w.println("uciok")
			case "isready":
				w.println("readyok")
			case "setoption":
				if len(fields) == 5 && strings.EqualFold(fields[2], "MultiPV") {
					if n, err := strconv.Atoi(fields[4]); err == nil && n > 0 {
						multiPV = n
					}
				}
			case "position":
				if p, err := parsePosition(fields[1:]); err == nil {
					pos = p
				}
			case "d":
				for _, row := range strings.Split(pos.Board().Draw(), "\n") {
					if strings.TrimSpace(row) != "" {
						w.println(row)
					}
				}
				w.println("Fen: " + pos.String())
			case "go":
				budget := e.budget(fields)
				e.begin()
				if e.Silent {
					// Never answers; the caller is expected to give up.
					e.end()
					continue
				}
				finished = make(chan struct{})
				go func(pos *chess.Position, lines int, done chan struct{}) {
					defer close(done)
					time.Sleep(budget)
					e.report(w, pos, lines)
				}(pos, multiPV, finished)
			case "quit":
				if e.IgnoreQuit {
					quit = true
					continue
				}
				if finished != nil {
					<-finished
				}
				return w.err
			}
		}
	}
}

func (e *Engine) begin() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.searches++
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active--
}

// MaxConcurrentSearches is the largest number of searches ever overlapping.
func (e *Engine) MaxConcurrentSearches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive
}

func (e *Engine) budget(fields []string) time.Duration {
	var d time.Duration
	for i := 1; i < len(fields)-1; i++ {
		if fields[i] == "movetime" {
			if ms, err := strconv.Atoi(fields[i+1]); err == nil {
				d = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if e.SearchTime > 0 && (d == 0 || e.SearchTime < d) {
		d = e.SearchTime
	}
	return d
}

func (e *Engine) report(w *writer, pos *chess.Position, lines int) {
	var mates, others []string
	for _, lm := range pos.ValidMoves() {
		uci := lm.S1().String() + lm.S2().String() + promoSuffix(lm.Promo())
		m, err := chess.UCINotation{}.Decode(pos, uci)
		if err != nil {
			continue
		}
		if pos.Update(m).Status() == chess.Checkmate {
			mates = append(mates, uci)
		} else {
			others = append(others, uci)
		}
	}

	ranked := append(mates, others...)
	best := "(none)"
	if len(ranked) == 0 {
		w.println("info depth 0 score mate 0")
	} else {
		best = ranked[0]
	}
	for i, mv := range ranked {
		if i == lines {
			break
		}
		score := "cp " + strconv.Itoa(50-10*i)
		if i < len(mates) {
			score = "mate 1"
		}
		w.println(fmt.Sprintf("info depth 1 seldepth 1 multipv %d score %s nodes %d pv %s", i+1, score, 100*(i+1), mv))
	}
	// The search is over before bestmove is visible to the client.
	e.end()
	w.println("bestmove " + best)
}

func promoSuffix(pt chess.PieceType) string {
	switch pt {
	case chess.Queen:
		return "q"
	case chess.Rook:
		return "r"
	case chess.Bishop:
		return "b"
	case chess.Knight:
		return "n"
	}
	return ""
}

func parsePosition(args []string) (*chess.Position, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("position: missing argument")
	}
	switch args[0] {
	case "startpos":
		return mustPosition(startFEN), nil
	case "fen":
		end := len(args)
		for i, a := range args {
			if a == "moves" {
				end = i
			}
		}
		return notation.PositionFromFEN(strings.Join(args[1:end], " "))
	}
	return nil, fmt.Errorf("position: unknown form %q", args[0])
}

func mustPosition(fen string) *chess.Position {
	pos, err := notation.PositionFromFEN(fen)
	if err != nil {
		panic(err)
	}
	return pos
}

// writer serialises output lines and remembers the first write error.
type writer struct {
	mu  sync.Mutex
	out io.Writer
	err error
}

func (w *writer) println(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.out, s+"\n")
}

// HelperEnv names the environment variable that turns a test binary into a
// fake engine process.
const HelperEnv = "UCIBRIDGE_FAKE_ENGINE"

// Main serves on stdin/stdout and exits when HelperEnv is set. Its value
// selects behaviour: "ignore-quit" keeps the process alive after quit.
func Main() {
	mode, ok := os.LookupEnv(HelperEnv)
	if !ok {
		return
	}
	e := &Engine{SearchTime: 20 * time.Millisecond}
	if mode == "ignore-quit" {
		e.IgnoreQuit = true
	}
	if err := e.Serve(os.Stdin, os.Stdout); err != nil {
		os.Exit(1)
	}
	if e.IgnoreQuit {
		// Stdin is gone but the process lingers until killed.
		time.Sleep(time.Hour)
	}
	os.Exit(0)
}

// Connect runs e on a pair of in-memory pipes. r carries the engine's output
// and w its input; the returned channel yields Serve's result once w is
// closed or quit is received.
func Connect(e *Engine) (r io.ReadCloser, w io.WriteCloser, done <-chan error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := e.Serve(inR, outW)
		outW.Close()
		inR.Close()
		errc <- err
	}()
	return outR, inW, errc
}
