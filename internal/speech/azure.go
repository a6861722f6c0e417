package speech

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

// DefaultVoice is the Azure neural voice used unless WithVoice is given.
const DefaultVoice = "en-US-AvaNeural"

// DefaultAudioFormat is what Azure returns and the Player expects.
const DefaultAudioFormat = "riff-24khz-16bit-mono-pcm"

// Audio parameters matching the default format.
const (
	SampleRate   = 24000
	ChannelCount = 1
)

// Env var names for Azure Speech credentials.
const (
	EnvAzureSpeechKey    = "AZURE_SPEECH_KEY"
	EnvAzureSpeechRegion = "AZURE_SPEECH_REGION"
)

// AzureOption configures the Azure TTS client.
type AzureOption func(*AzureClient)

// WithVoice sets the TTS voice.
func WithVoice(voice string) AzureOption {
	return func(c *AzureClient) {
		c.voice = voice
	}
}

// WithHTTPTimeout sets the HTTP client timeout for TTS requests.
func WithHTTPTimeout(d time.Duration) AzureOption {
	return func(c *AzureClient) {
		c.httpClient.Timeout = d
	}
}

// WithEndpoint overrides the synthesis URL. Used by tests.
func WithEndpoint(url string) AzureOption {
	return func(c *AzureClient) {
		c.endpoint = url
	}
}

// AzureClient handles text-to-speech synthesis via Azure Cognitive Services.
type AzureClient struct {
	subscriptionKey string
	endpoint        string
	voice           string
	format          string
	httpClient      *http.Client
	log             *logger.Logger
}

// NewAzureClient creates an Azure TTS client with the given credentials.
func NewAzureClient(key, region string, log *logger.Logger, opts ...AzureOption) *AzureClient {
	c := &AzureClient{
		subscriptionKey: key,
		endpoint:        fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
		voice:           DefaultVoice,
		format:          DefaultAudioFormat,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Voice returns the configured voice name.
func (c *AzureClient) Voice() string { return c.voice }

// Synthesize converts a request to WAV bytes. Rate, pitch and language are
// rendered as SSML; volume is applied at playback.
func (c *AzureClient) Synthesize(ctx context.Context, req domain.TTSRequest) ([]byte, error) {
	ssml, err := c.buildSSML(req)
	if err != nil {
		return nil, err
	}
	c.log.Debug("azure tts: synthesizing %d chars (voice=%s, lang=%s)", len(req.Text), c.voice, req.Language)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", c.format)
	httpReq.Header.Set("User-Agent", "voxengine/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("azure tts error %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio data: %w", err)
	}
	c.log.Debug("azure tts: got %d bytes of audio", len(audio))
	return audio, nil
}

// buildSSML renders the request as SSML with escaped text.
func (c *AzureClient) buildSSML(req domain.TTSRequest) ([]byte, error) {
	lang := req.Language
	if lang == "" {
		lang = "en-US"
	}

	var text bytes.Buffer
	if err := xml.EscapeText(&text, []byte(req.Text)); err != nil {
		return nil, fmt.Errorf("escaping text: %w", err)
	}

	return []byte(fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'>`+
			`<voice name='%s'><prosody rate='%s' pitch='%s'>%s</prosody></voice></speak>`,
		lang, c.voice, relative(req.Rate), relative(req.Pitch), text.String(),
	)), nil
}

// relative renders a multiplier as an SSML relative change: 1.0 is "+0%",
// 1.25 is "+25%".
func relative(v float64) string {
	if v <= 0 {
		v = 1
	}
	return fmt.Sprintf("%+d%%", int(math.Round((v-1)*100)))
}
