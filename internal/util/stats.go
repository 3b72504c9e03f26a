package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide relay counter.
var Stats = &stats{}

type stats struct {
	SessionsOpened atomic.Int64 // cumulative count of WS sessions since process start
	SessionsClosed atomic.Int64 // cumulative count of closed WS sessions since process start
	MsgsRelayed    atomic.Int64 // cumulative signaling messages forwarded
	MsgsDropped    atomic.Int64 // cumulative messages dropped (slow consumer or malformed)
}

func (s *stats) AddSession()    { s.SessionsOpened.Add(1) }
func (s *stats) RemoveSession() { s.SessionsClosed.Add(1) }
func (s *stats) AddRelayed()    { s.MsgsRelayed.Add(1) }
func (s *stats) AddDropped()    { s.MsgsDropped.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs relay statistics every
// 30 seconds. roomCount supplies the current number of live rooms. The
// reporter stays quiet while nothing is happening and stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context, roomCount func() int) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var prevRelayed, prevOpened, prevClosed int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.SessionsOpened.Load()
				closed := Stats.SessionsClosed.Load()
				relayed := Stats.MsgsRelayed.Load()

				inC := opened - prevOpened
				outC := closed - prevClosed
				fwd := relayed - prevRelayed

				if inC > 0 || outC > 0 || fwd > 0 {
					pterm.DefaultLogger.Info(formatStats(fwd, inC, outC, roomCount()))
				}

				prevRelayed = relayed
				prevOpened = opened
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(fwd, inC, outC int64, rooms int) string {
	return fmt.Sprintf("Relayed: %4d msgs | Sessions: %2d↑ %2d↓ | Rooms: %d",
		fwd,
		inC,
		outC,
		rooms,
	)
}
