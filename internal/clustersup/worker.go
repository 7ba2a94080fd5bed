package clustersup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Worker is the in-process side of a cluster worker: it answers the
// supervisor's checkMemory probes over stdin/stdout and can ask the whole
// cluster to restart. Workers log to stderr (as every other command in
// this binary does); stdin/stdout are reserved for the control channel.
type Worker struct {
	log *slog.Logger
	out *json.Encoder
}

// RunWorker starts listening for supervisor control messages on stdin.
// It returns once the context is done or stdin is closed (the supervisor
// exited).
func RunWorker(ctx context.Context, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{log: log, out: json.NewEncoder(os.Stdout)}
	go w.readLoop(ctx)
	return w
}

func (w *Worker) readLoop(ctx context.Context) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var msg message
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			w.log.Warn("clustersup: malformed control message", "err", err)
			continue
		}
		w.handle(msg)
	}
}

func (w *Worker) handle(msg message) {
	switch msg.Cmd {
	case cmdCheckMemory:
		rss := rssBytes()
		_ = w.out.Encode(message{Cmd: cmdMemoryReport, RSS: rss})
		if msg.MaxMem > 0 && rss > msg.MaxMem {
			w.log.Error("clustersup: worker exceeded memory budget, exiting for restart",
				"rss", rss, "maxMem", msg.MaxMem)
			os.Exit(1)
		}
	default:
		w.log.Warn("clustersup: unknown control message", "cmd", msg.Cmd)
	}
}

// RequestRestartAll asks the supervisor to kill and refork every worker
// (used after a plugin/config install that every worker must pick up).
func (w *Worker) RequestRestartAll() error {
	if err := w.out.Encode(message{Cmd: cmdRestartAllWorkers}); err != nil {
		return fmt.Errorf("clustersup: send restartAllWorkers: %w", err)
	}
	return nil
}
