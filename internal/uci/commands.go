// Package uci encodes commands for, and decodes output from, engines that
// speak the Universal Chess Interface.
package uci

import (
	"fmt"
	"strconv"
)

const (
	UCI     = "uci"
	IsReady = "isready"
	Quit    = "quit"
	// Display asks the engine to print the current board (a Stockfish
	// extension).
	Display = "d"
)

// Response tokens the driver waits for.
const (
	TokenUCIOK    = "uciok"
	TokenReadyOK  = "readyok"
	TokenBestMove = "bestmove"
)

// SetOption renders a setoption command.
func SetOption(name, value string) string {
	return fmt.Sprintf("setoption name %s value %s", name, value)
}

func SetMultiPV(lines int) string {
	return SetOption("MultiPV", strconv.Itoa(lines))
}

func SetThreads(n int) string {
	return SetOption("Threads", strconv.Itoa(n))
}

func SetHash(mb int) string {
	return SetOption("Hash", strconv.Itoa(mb))
}

func LimitStrength() string {
	return SetOption("UCI_LimitStrength", "true")
}

func SetElo(elo int) string {
	return SetOption("UCI_Elo", strconv.Itoa(elo))
}

// Position sets the board from a FEN string.
func Position(fen string) string {
	return "position fen " + fen
}

// GoMoveTime starts a search limited to ms milliseconds.
func GoMoveTime(ms int64) string {
	return "go movetime " + strconv.FormatInt(ms, 10)
}
