package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPSynthesizer fetches synthesized audio from a TTS service and plays it
// with a local player command. Audio files are written under a private temp
// directory and removed after playback.
type HTTPSynthesizer struct {
	baseURL  string
	language string
	player   []string // player command split into argv
	tempDir  string
	client   *http.Client
}

// NewHTTPSynthesizer creates a synthesizer for the given TTS service URL and
// player command line (e.g. "mpg123 -q").
func NewHTTPSynthesizer(baseURL, language, player string) (*HTTPSynthesizer, error) {
	argv := strings.Fields(player)
	if len(argv) == 0 {
		return nil, fmt.Errorf("audio player command is empty")
	}

	tempDir := filepath.Join(os.TempDir(), "neway_audio")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audio temp directory: %w", err)
	}

	return &HTTPSynthesizer{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		language: language,
		player:   argv,
		tempDir:  tempDir,
		client:   &http.Client{Timeout: 20 * time.Second},
	}, nil
}

type ttsRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// SynthesizeAndPlay fetches audio for the text and plays it synchronously.
func (s *HTTPSynthesizer) SynthesizeAndPlay(ctx context.Context, text string) error {
	payload, err := json.Marshal(ttsRequest{Text: text, Language: s.language})
	if err != nil {
		return fmt.Errorf("marshaling tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/tts", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tts service status %d: %s", resp.StatusCode, string(body))
	}

	path := filepath.Join(s.tempDir, fmt.Sprintf("tts_%s.mp3", uuid.NewString()))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating audio file: %w", err)
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(path)
		return fmt.Errorf("writing audio file: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return fmt.Errorf("writing audio file: %w", closeErr)
	}
	defer os.Remove(path)

	args := append(append([]string{}, s.player[1:]...), path)
	cmd := exec.CommandContext(ctx, s.player[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("playing audio: %w: %s", err, string(out))
	}
	return nil
}

// Cleanup removes any leftover audio artifacts, best effort.
func (s *HTTPSynthesizer) Cleanup() {
	files, err := filepath.Glob(filepath.Join(s.tempDir, "tts_*.mp3"))
	if err != nil {
		return
	}
	for _, f := range files {
		os.Remove(f)
	}
}
