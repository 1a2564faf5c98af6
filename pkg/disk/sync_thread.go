package disk

import (
	"errors"
	"sync"
	"time"

	"github.com/downfa11-org/bookie/pkg/types"
	"github.com/downfa11-org/bookie/util"
)

// SyncThread periodically flushes its targets until stopped.
type SyncThread struct {
	interval time.Duration
	targets  []types.Flushable

	mu        sync.Mutex // serializes flush rounds
	done      chan struct{}
	closeOnce sync.Once
	shutdown  sync.WaitGroup
}

func NewSyncThread(interval time.Duration, targets ...types.Flushable) *SyncThread {
	return &SyncThread{
		interval: interval,
		targets:  targets,
		done:     make(chan struct{}),
	}
}

func (s *SyncThread) Start() {
	s.shutdown.Add(1)
	go func() {
		defer s.shutdown.Done()
		s.loop()
	}()
}

func (s *SyncThread) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.FlushNow(); err != nil {
				util.Error("periodic flush failed: %v", err)
			}
		case <-s.done:
			return
		}
	}
}

// FlushNow flushes every target once and joins their errors.
func (s *SyncThread) FlushNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, t := range s.targets {
		if err := t.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop ends the loop and runs a final flush round.
func (s *SyncThread) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.shutdown.Wait()
		err = s.FlushNow()
	})
	return err
}
