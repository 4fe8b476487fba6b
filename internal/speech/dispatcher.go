package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ozgurtan/medavatar/internal/cache"
)

// Dispatcher picks a synthesis backend per turn. It prefers the primary
// provider and switches to fallback when primary fails; once fallback
// succeeds it stays active until fallback itself fails, then primary is
// retried. Attempts are sequential so a turn never bills two providers
// for the same utterance.
type Dispatcher struct {
	primary  Provider
	fallback Provider

	fallbackActive atomic.Bool

	audioCache cache.AudioCache
	cacheTTL   time.Duration
	log        *logrus.Logger
}

func NewDispatcher(primary, fallback Provider, audioCache cache.AudioCache, cacheTTL time.Duration, log *logrus.Logger) *Dispatcher {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &Dispatcher{
		primary:    primary,
		fallback:   fallback,
		audioCache: audioCache,
		cacheTTL:   cacheTTL,
		log:        log,
	}
}

// Synthesize renders text in language. preferred, when non-empty and
// matching a configured provider name, is tried first for this turn only;
// it does not disturb the sticky fallback state.
func (d *Dispatcher) Synthesize(ctx context.Context, text, language, preferred string) (Synthesis, error) {
	if d.audioCache != nil {
		key := audioCacheKey(text, language)
		data, contentType, hit, err := d.audioCache.Get(ctx, key)
		if err != nil {
			d.log.WithError(err).Warn("audio cache read failed")
		} else if hit {
			return Synthesis{Audio: data, ContentType: contentType, Provider: "cache"}, nil
		}
	}

	out, err := d.synthesizeUncached(ctx, text, language, preferred)
	if err != nil {
		return Synthesis{}, err
	}

	if d.audioCache != nil {
		if err := d.audioCache.Set(ctx, audioCacheKey(text, language), out.Audio, out.ContentType, d.cacheTTL); err != nil {
			d.log.WithError(err).Warn("audio cache write failed")
		}
	}
	return out, nil
}

func (d *Dispatcher) synthesizeUncached(ctx context.Context, text, language, preferred string) (Synthesis, error) {
	first, second := d.order(preferred)
	if first == nil {
		return Synthesis{}, ErrSynthesisFailed
	}

	out, firstErr := first.Synthesize(ctx, text, language)
	if firstErr == nil {
		if preferred == "" {
			d.noteOutcome(first)
		}
		return out, nil
	}
	d.log.WithError(firstErr).WithField("provider", first.Name()).Warn("speech provider failed")

	if second == nil {
		return Synthesis{}, fmt.Errorf("%w: %s: %v", ErrSynthesisFailed, first.Name(), firstErr)
	}

	out, secondErr := second.Synthesize(ctx, text, language)
	if secondErr == nil {
		if preferred == "" {
			d.noteOutcome(second)
		}
		return out, nil
	}
	d.log.WithError(secondErr).WithField("provider", second.Name()).Warn("speech provider failed")

	return Synthesis{}, fmt.Errorf("%w: %s: %v; %s: %v",
		ErrSynthesisFailed, first.Name(), firstErr, second.Name(), secondErr)
}

// order resolves which provider is tried first this turn.
func (d *Dispatcher) order(preferred string) (Provider, Provider) {
	a, b := d.primary, d.fallback
	if d.fallbackActive.Load() {
		a, b = d.fallback, d.primary
	}
	if preferred != "" {
		if d.fallback != nil && preferred == d.fallback.Name() {
			return d.fallback, d.primary
		}
		if d.primary != nil && preferred == d.primary.Name() {
			return d.primary, d.fallback
		}
	}
	return a, b
}

// noteOutcome flips the sticky fallback flag based on which provider
// actually served the turn.
func (d *Dispatcher) noteOutcome(served Provider) {
	if served == nil {
		return
	}
	switch {
	case d.fallback != nil && served.Name() == d.fallback.Name():
		d.fallbackActive.Store(true)
	case d.primary != nil && served.Name() == d.primary.Name():
		d.fallbackActive.Store(false)
	}
}

func audioCacheKey(text, language string) string {
	sum := sha256.Sum256([]byte(language + "|" + text))
	return "medavatar:audio:" + hex.EncodeToString(sum[:])
}
