package speech

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

// Synthesizer turns a request into WAV bytes. AzureClient implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, req domain.TTSRequest) ([]byte, error)
	Voice() string
}

// AudioPlayer plays WAV bytes. Player implements it.
type AudioPlayer interface {
	Play(ctx context.Context, wav []byte, volume float64) error
	Stop()
}

// EngineOption configures the SynthEngine.
type EngineOption func(*SynthEngine)

// WithChunkSize sets the approximate max character count per synthesis
// request. Longer text is split at sentence boundaries and synthesized in
// parallel so playback doesn't stall between sentences. 0 disables it.
func WithChunkSize(n int) EngineOption {
	return func(e *SynthEngine) { e.chunkSize = n }
}

// WithCacheDir sets the directory for persistent audio caching. Empty
// disables the disk layer.
func WithCacheDir(dir string) EngineOption {
	return func(e *SynthEngine) { e.cacheDir = dir }
}

// WithDiskWrite controls whether new cache entries are written to disk.
// Existing entries are still read when false.
func WithDiskWrite(enabled bool) EngineOption {
	return func(e *SynthEngine) { e.diskWrite = enabled }
}

// SynthEngine is a domain.SpeechEngine that synthesizes through a remote
// TTS service and plays the result locally: chunk, synthesize in parallel,
// play in order. Identical chunks are served from an AudioCache.
type SynthEngine struct {
	tts       Synthesizer
	player    AudioPlayer
	log       *logger.Logger
	cache     *AudioCache
	chunkSize int
	cacheDir  string
	diskWrite bool
}

// NewSynthEngine creates an engine over tts and player.
func NewSynthEngine(tts Synthesizer, player AudioPlayer, log *logger.Logger, opts ...EngineOption) *SynthEngine {
	e := &SynthEngine{
		tts:       tts,
		player:    player,
		log:       log,
		chunkSize: 200,
		diskWrite: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = NewAudioCache(tts.Voice(), e.cacheDir, e.diskWrite, log)
	return e
}

// Speak synthesizes and plays req, blocking until done. Chunks that fail to
// synthesize are skipped; the call fails only if nothing could be played.
func (e *SynthEngine) Speak(ctx context.Context, req domain.TTSRequest) error {
	chunks := splitChunks(req.Text, e.chunkSize)
	if len(chunks) == 1 {
		audio, err := e.synthesize(ctx, withText(req, chunks[0]))
		if err != nil {
			return err
		}
		return e.player.Play(ctx, audio, req.Volume)
	}

	e.log.Debug("engine: split into %d chunks for parallel synthesis", len(chunks))

	type result struct {
		idx   int
		audio []byte
		err   error
	}
	results := make(chan result, len(chunks))
	for i, chunk := range chunks {
		go func(idx int, text string) {
			audio, err := e.synthesize(ctx, withText(req, text))
			results <- result{idx: idx, audio: audio, err: err}
		}(i, chunk)
	}

	slots := make([][]byte, len(chunks))
	var errs []error
	for range chunks {
		r := <-results
		if r.err != nil {
			e.log.Error("engine: chunk %d synthesis failed: %v", r.idx, r.err)
			errs = append(errs, r.err)
			continue
		}
		slots[r.idx] = r.audio
	}
	if len(errs) == len(chunks) {
		return errors.Join(errs...)
	}

	for i, audio := range slots {
		if audio == nil {
			e.log.Debug("engine: skipping chunk %d (synthesis failed)", i)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.player.Play(ctx, audio, req.Volume); err != nil {
			return err
		}
	}
	return nil
}

// Stop interrupts playback.
func (e *SynthEngine) Stop() {
	e.player.Stop()
}

// Prefetch synthesizes texts in the background so a later Speak with the
// same prosody starts instantly. Non-blocking.
func (e *SynthEngine) Prefetch(ctx context.Context, req domain.TTSRequest, texts ...string) {
	for _, text := range texts {
		for _, chunk := range splitChunks(text, e.chunkSize) {
			r := withText(req, chunk)
			if r.Text == "" || e.cache.Has(r) {
				continue
			}
			go func() {
				if _, err := e.synthesize(ctx, r); err != nil {
					e.log.Error("prefetch: synthesis failed: %v", err)
				}
			}()
		}
	}
}

// Cache returns the engine's audio cache.
func (e *SynthEngine) Cache() *AudioCache { return e.cache }

func (e *SynthEngine) synthesize(ctx context.Context, req domain.TTSRequest) ([]byte, error) {
	if audio, ok := e.cache.Get(req); ok {
		return audio, nil
	}
	audio, err := e.tts.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	e.cache.Put(req, audio)
	return audio, nil
}

func withText(req domain.TTSRequest, text string) domain.TTSRequest {
	req.Text = text
	return req
}

// splitChunks breaks text into sentence-boundary chunks of roughly size
// characters. Short text, or size 0, yields a single chunk.
func splitChunks(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
	)
	for _, s := range splitSentences(text) {
		if current.Len() > 0 && current.Len()+len(s) > size {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// splitSentences splits text after . ! and ?, keeping the punctuation and
// trailing whitespace with the preceding sentence.
func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
				current.WriteRune(runes[i])
			}
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}
