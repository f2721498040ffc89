package pow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/CodyTseng/nostr-comments/internal/comments"
	"github.com/CodyTseng/nostr-comments/internal/config"
	"github.com/CodyTseng/nostr-comments/internal/ops"
	"github.com/nbd-wtf/go-nostr"
)

// MaxDifficulty is the number of bits in an event id
const MaxDifficulty = 256

// cancelCheckInterval is how many hashes run between cancellation checks
const cancelCheckInterval = 512

var (
	// ErrCanceled is returned by Wait after Cancel
	ErrCanceled = errors.New("mining canceled")
	// ErrInvalidDifficulty is returned for difficulties outside 0..256
	ErrInvalidDifficulty = errors.New("invalid difficulty")
)

// Difficulty counts the leading zero bits of an event id
func Difficulty(id string) int {
	return comments.Difficulty(id)
}

// Miner stamps events with a nonce tag until their id has enough leading
// zero bits. Jobs beyond the worker limit queue until a slot frees up.
type Miner struct {
	slots  chan struct{}
	now    func() time.Time
	logger *ops.Logger
}

// Option configures a Miner
type Option func(*Miner)

// WithClock replaces the wall clock used for created_at
func WithClock(now func() time.Time) Option {
	return func(m *Miner) {
		m.now = now
	}
}

// WithLogger sets the miner logger
func WithLogger(logger *ops.Logger) Option {
	return func(m *Miner) {
		m.logger = logger.WithComponent("pow")
	}
}

// NewMiner creates a miner from the pow config section
func NewMiner(cfg *config.Pow, opts ...Option) *Miner {
	workers := 1
	if cfg != nil && cfg.Workers > 0 {
		workers = cfg.Workers
	}

	m := &Miner{
		slots:  make(chan struct{}, workers),
		now:    time.Now,
		logger: ops.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Job is a single mining request. It is fulfilled exactly once.
type Job struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	result nostr.Event
	err    error
}

// Submit starts mining a copy of evt. The pubkey must already be set since
// it is part of the id.
func (m *Miner) Submit(evt nostr.Event, difficulty int) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	if difficulty < 0 || difficulty > MaxDifficulty {
		job.finish(nostr.Event{}, fmt.Errorf("%w: %d", ErrInvalidDifficulty, difficulty))
		cancel()
		return job
	}

	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				m.logger.LogPanic(r, string(debug.Stack()))
				job.finish(nostr.Event{}, fmt.Errorf("mining failed: %v", r))
			}
		}()

		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			job.finish(nostr.Event{}, ErrCanceled)
			return
		}
		defer func() { <-m.slots }()

		start := time.Now()
		mined, attempts, err := m.mine(ctx, evt, difficulty)
		m.logger.LogMining(difficulty, attempts, time.Since(start), err)
		job.finish(mined, err)
	}()

	return job
}

func (m *Miner) mine(ctx context.Context, evt nostr.Event, difficulty int) (nostr.Event, uint64, error) {
	if difficulty == 0 {
		evt.ID = evt.GetID()
		return evt, 0, nil
	}

	a := newAttempt(evt, difficulty, m.now)

	var attempts uint64
	for {
		attempts++
		id := a.next()
		if Difficulty(id) >= difficulty {
			a.evt.ID = id
			return a.evt, attempts, nil
		}

		if attempts%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nostr.Event{}, attempts, ErrCanceled
			}
		}
	}
}

func (j *Job) finish(evt nostr.Event, err error) {
	j.once.Do(func() {
		j.result = evt
		j.err = err
		close(j.done)
	})
}

// Wait blocks until the job finishes or ctx ends. Ending ctx does not stop
// the job; use Cancel for that.
func (j *Job) Wait(ctx context.Context) (nostr.Event, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nostr.Event{}, ctx.Err()
	}
}

// Cancel stops the job and discards its result
func (j *Job) Cancel() {
	j.cancel()
	j.finish(nostr.Event{}, ErrCanceled)
}

// Done is closed once the job has a result
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// attempt holds the mutable state of one mining run
type attempt struct {
	evt      nostr.Event
	nonceIdx int
	counter  uint64
	now      func() time.Time
}

// newAttempt copies the tags and puts the nonce tag in place, replacing any
// existing one.
func newAttempt(evt nostr.Event, difficulty int, now func() time.Time) *attempt {
	tags := make(nostr.Tags, 0, len(evt.Tags)+1)
	nonceIdx := -1
	for _, tag := range evt.Tags {
		if len(tag) > 0 && tag[0] == "nonce" {
			if nonceIdx >= 0 {
				continue
			}
			nonceIdx = len(tags)
		}
		tags = append(tags, tag)
	}
	if nonceIdx < 0 {
		nonceIdx = len(tags)
		tags = append(tags, nil)
	}
	tags[nonceIdx] = nostr.Tag{"nonce", "0", strconv.Itoa(difficulty)}

	evt.Tags = tags
	evt.ID = ""
	evt.Sig = ""

	return &attempt{
		evt:      evt,
		nonceIdx: nonceIdx,
		now:      now,
	}
}

// next advances the nonce and returns the resulting id. The counter restarts
// whenever the wall clock moves to a new second.
func (a *attempt) next() string {
	now := nostr.Timestamp(a.now().Unix())
	if now != a.evt.CreatedAt {
		a.evt.CreatedAt = now
		a.counter = 0
	}
	a.counter++
	a.evt.Tags[a.nonceIdx][1] = strconv.FormatUint(a.counter, 10)
	return a.evt.GetID()
}
