package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// writeBehind coalesces dirty keys and commits them to the KVStore on its
// own goroutine, so callers on the pipeline never wait for disk.
// A failed commit keeps the keys pending and retries on the next signal.
type writeBehind struct {
	kv     domain.KVStore
	logger *zap.Logger

	mu      sync.Mutex
	set     map[string]string
	del     map[string]struct{}
	closed  bool
	signal  chan struct{}
	flushes chan chan error
	stop    chan struct{}
	done    chan struct{}
}

func newWriteBehind(kv domain.KVStore, logger *zap.Logger) *writeBehind {
	w := &writeBehind{
		kv:      kv,
		logger:  logger,
		set:     make(map[string]string),
		del:     make(map[string]struct{}),
		signal:  make(chan struct{}, 1),
		flushes: make(chan chan error),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// stage records changes; later stages win over earlier ones for the same key.
func (w *writeBehind) stage(set map[string]string, del []string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Warn("state change after store close, not persisted", zap.Int("keys", len(set)+len(del)))
		return
	}
	for k, v := range set {
		w.set[k] = v
		delete(w.del, k)
	}
	for _, k := range del {
		w.del[k] = struct{}{}
		delete(w.set, k)
	}
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *writeBehind) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.signal:
			_ = w.commit()
		case reply := <-w.flushes:
			reply <- w.commit()
		case <-w.stop:
			_ = w.commit()
			return
		}
	}
}

// commit swaps out pending changes and writes them in one batch.
func (w *writeBehind) commit() error {
	w.mu.Lock()
	if len(w.set) == 0 && len(w.del) == 0 {
		w.mu.Unlock()
		return nil
	}
	set := w.set
	delSet := w.del
	w.set = make(map[string]string)
	w.del = make(map[string]struct{})
	w.mu.Unlock()

	del := make([]string, 0, len(delSet))
	for k := range delSet {
		del = append(del, k)
	}

	if err := w.kv.Commit(set, del); err != nil {
		w.logger.Error("failed to persist state, will retry",
			zap.Int("set", len(set)),
			zap.Int("del", len(del)),
			zap.Error(err))
		w.requeue(set, delSet)
		return err
	}
	return nil
}

// requeue puts back a failed batch without clobbering newer staged values.
func (w *writeBehind) requeue(set map[string]string, del map[string]struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range set {
		if _, newer := w.set[k]; newer {
			continue
		}
		if _, newer := w.del[k]; newer {
			continue
		}
		w.set[k] = v
	}
	for k := range del {
		if _, newer := w.set[k]; newer {
			continue
		}
		w.del[k] = struct{}{}
	}
}

// flush blocks until everything staged so far has been committed.
func (w *writeBehind) flush() error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil
	}
	reply := make(chan error, 1)
	select {
	case w.flushes <- reply:
		return <-reply
	case <-w.done:
		return nil
	}
}

// close commits what is pending and stops the goroutine.
func (w *writeBehind) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.stop)
	<-w.done
}
