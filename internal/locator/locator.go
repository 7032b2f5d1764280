// Package locator finds the block whose timestamp is closest to a target instant.
//
// The search assumes block times are non-decreasing in height: a binary search
// over a window around a hint, followed by probes at geometrically shrinking
// offsets around the best sample.
package locator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lava-reports/internal/node"
)

// DateLayout formats target dates.
const DateLayout = "2006-01-02"

const refineStart = 10_000

var (
	// ErrBeyondTip aborts a search that reached above the chain tip.
	ErrBeyondTip = errors.New("locator: height beyond chain tip")
	// ErrNotFound means no probe succeeded.
	ErrNotFound = errors.New("locator: no block found")
)

// ErrorKind classifies a LocatorError.
type ErrorKind int

const (
	KindFetch ErrorKind = iota + 1
	KindBeyondTip
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindBeyondTip:
		return "beyond_tip"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// LocatorError carries the failing height and its cause.
type LocatorError struct {
	Kind   ErrorKind
	Height int64
	Err    error
}

func (e *LocatorError) Error() string {
	if e.Height > 0 {
		return fmt.Sprintf("locate %s at height %d: %v", e.Kind, e.Height, e.Err)
	}
	return fmt.Sprintf("locate %s: %v", e.Kind, e.Err)
}

func (e *LocatorError) Unwrap() error { return e.Err }

// Is matches the package sentinels by kind.
func (e *LocatorError) Is(target error) bool {
	switch target {
	case ErrBeyondTip:
		return e.Kind == KindBeyondTip
	case ErrNotFound:
		return e.Kind == KindNotFound
	default:
		return false
	}
}

// BlockSource exposes the chain tip and block times.
type BlockSource interface {
	Latest(ctx context.Context) (int64, time.Time, error)
	BlockTime(ctx context.Context, height int64) (time.Time, error)
}

// BlockSample is a located block.
type BlockSample struct {
	Height     int64     `json:"height"`
	Time       time.Time `json:"block_time"`
	SecondsOff float64   `json:"seconds_off"`
	TargetDate string    `json:"target_date"`
}

// Options tune the search.
type Options struct {
	BlocksPerDay int64
	Window       int64
	Tolerance    time.Duration
}

// Locator searches one chain. Block times are memoised per instance.
type Locator struct {
	source BlockSource
	opts   Options
	logger zerolog.Logger

	mu   sync.Mutex
	memo map[int64]time.Time
}

// New constructs a Locator with defaults of 6000 blocks/day, a 5000 block
// window and a 3s tolerance.
func New(source BlockSource, opts Options, logger zerolog.Logger) *Locator {
	if opts.BlocksPerDay <= 0 {
		opts.BlocksPerDay = 6000
	}
	if opts.Window <= 0 {
		opts.Window = 5000
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 3 * time.Second
	}
	return &Locator{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "locator").Logger(),
		memo:   make(map[int64]time.Time),
	}
}

// BlocksPerDay returns the assumed production rate.
func (l *Locator) BlocksPerDay() int64 { return l.opts.BlocksPerDay }

type search struct {
	target time.Time
	tip    int64
	best   *BlockSample
	probes int
}

func (s *search) consider(height int64, at time.Time) {
	off := math.Abs(at.Sub(s.target).Seconds())
	if s.best != nil && off >= s.best.SecondsOff {
		return
	}
	s.best = &BlockSample{Height: height, Time: at, SecondsOff: off, TargetDate: s.target.UTC().Format(DateLayout)}
}

// Locate returns the block closest to target. hint <= 0 estimates a start
// height from the tip and the assumed block rate. When the search does not
// converge within tolerance the best sample found is returned.
func (l *Locator) Locate(ctx context.Context, target time.Time, hint int64) (BlockSample, error) {
	tip, tipTime, err := l.source.Latest(ctx)
	if err != nil {
		return BlockSample{}, &LocatorError{Kind: KindFetch, Err: fmt.Errorf("latest block: %w", err)}
	}
	if tip < 1 {
		return BlockSample{}, &LocatorError{Kind: KindNotFound, Err: errors.New("chain has no blocks")}
	}
	l.remember(tip, tipTime)

	if hint <= 0 {
		hint = l.estimate(tip, tipTime, target)
	}
	hint = clamp(hint, 1, tip)
	s := &search{target: target, tip: tip}

	done, err := l.coarse(ctx, s, hint)
	if err != nil {
		return BlockSample{}, err
	}
	if !done && s.best != nil {
		if err := l.refine(ctx, s); err != nil {
			return BlockSample{}, err
		}
	}

	if s.best == nil {
		return BlockSample{}, &LocatorError{Kind: KindNotFound, Height: hint, Err: fmt.Errorf("%d probes around %d failed", s.probes, hint)}
	}
	if !l.within(s.best) {
		l.logger.Debug().Time("target", target).Int64("height", s.best.Height).Float64("seconds_off", s.best.SecondsOff).Msg("best effort sample outside tolerance")
	}
	return *s.best, nil
}

func (l *Locator) coarse(ctx context.Context, s *search, hint int64) (bool, error) {
	lo := clamp(hint-l.opts.Window, 1, s.tip)
	hi := clamp(hint+l.opts.Window, 1, s.tip)
	for lo <= hi {
		mid := lo + (hi-lo)/2
		at, ok, err := l.probe(ctx, s, mid)
		if err != nil {
			return false, err
		}
		if !ok {
			// drop the half that lies away from the hint
			if mid >= hint {
				hi = mid - 1
			} else {
				lo = mid + 1
			}
			continue
		}
		s.consider(mid, at)
		if l.within(s.best) {
			return true, nil
		}
		if at.After(s.target) {
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return false, nil
}

func (l *Locator) refine(ctx context.Context, s *search) error {
	for offset := int64(refineStart); offset >= 1; offset /= 2 {
		for _, h := range []int64{s.best.Height - offset, s.best.Height + offset} {
			if h < 1 || h > s.tip {
				continue
			}
			at, ok, err := l.probe(ctx, s, h)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			s.consider(h, at)
			if l.within(s.best) {
				return nil
			}
		}
	}
	return nil
}

// probe reports ok=false for a skippable failure and err for a fatal one.
func (l *Locator) probe(ctx context.Context, s *search, height int64) (time.Time, bool, error) {
	s.probes++
	at, err := l.blockTime(ctx, height)
	if err == nil {
		return at, true, nil
	}
	switch {
	case errors.Is(err, node.ErrBeyondTip):
		return time.Time{}, false, &LocatorError{Kind: KindBeyondTip, Height: height, Err: err}
	case ctx.Err() != nil:
		return time.Time{}, false, ctx.Err()
	default:
		l.logger.Warn().Err(err).Int64("height", height).Msg("block probe failed; skipping")
		return time.Time{}, false, nil
	}
}

func (l *Locator) blockTime(ctx context.Context, height int64) (time.Time, error) {
	l.mu.Lock()
	at, ok := l.memo[height]
	l.mu.Unlock()
	if ok {
		return at, nil
	}
	at, err := l.source.BlockTime(ctx, height)
	if err != nil {
		return time.Time{}, err
	}
	l.remember(height, at)
	return at, nil
}

func (l *Locator) remember(height int64, at time.Time) {
	if height <= 0 || at.IsZero() {
		return
	}
	l.mu.Lock()
	l.memo[height] = at
	l.mu.Unlock()
}

func (l *Locator) within(s *BlockSample) bool {
	return s != nil && s.SecondsOff <= l.opts.Tolerance.Seconds()
}

func (l *Locator) estimate(tip int64, tipTime, target time.Time) int64 {
	interval := 86400.0 / float64(l.opts.BlocksPerDay)
	behind := tipTime.Sub(target).Seconds() / interval
	return tip - int64(math.Round(behind))
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
