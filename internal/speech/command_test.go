package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestCommandEnginePassesVoiceAndRate(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "args.txt")
	script := writeScript(t, "tts.sh", "#!/usr/bin/env bash\nprintf '%s|' \"$@\" > '"+out+"'\n")
	engine := NewCommandEngine(script, "Kyoko", 180)

	if err := engine.Speak(context.Background(), " 猫が歩く "); err != nil {
		t.Fatalf("speak failed: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}
	if string(got) != "-v|Kyoko|-s|180|--|猫が歩く|" {
		t.Fatalf("unexpected args: %q", string(got))
	}
}

func TestCommandEngineKeepsDashTextOutOfOptions(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "args.txt")
	script := writeScript(t, "say", "#!/usr/bin/env bash\nprintf '%s|' \"$@\" > '"+out+"'\n")
	engine := NewCommandEngine(script, "", 200)

	if err := engine.Speak(context.Background(), "-v 1"); err != nil {
		t.Fatalf("speak failed: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}
	if string(got) != "-r|200|--|-v 1|" {
		t.Fatalf("unexpected args: %q", string(got))
	}
}

func TestCommandEngineSkipsBlankText(t *testing.T) {
	t.Parallel()

	engine := NewCommandEngine(filepath.Join(t.TempDir(), "missing"), "", 0)
	if err := engine.Speak(context.Background(), "   "); err != nil {
		t.Fatalf("expected blank text to be ignored, got %v", err)
	}
}

func TestCommandEngineReportsFailure(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no voice' 1>&2\nexit 3\n")
	err := NewCommandEngine(script, "", 0).Speak(context.Background(), "字幕")
	if err == nil || !strings.Contains(err.Error(), "no voice") {
		t.Fatalf("expected failure with stderr, got %v", err)
	}
}

func TestCommandEngineStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "slow.sh", "#!/usr/bin/env bash\nexec sleep 10\n")
	engine := NewCommandEngine(script, "", 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Speak(ctx, "長い字幕") }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("speak did not stop after cancel")
	}
}

func TestCommandEngineCancelAllInterrupts(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "slow.sh", "#!/usr/bin/env bash\nexec sleep 10\n")
	engine := NewCommandEngine(script, "", 0)

	done := make(chan error, 1)
	go func() { done <- engine.Speak(context.Background(), "長い字幕") }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		engine.mu.Lock()
		running := len(engine.processes)
		engine.mu.Unlock()
		if running > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("synthesizer never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := engine.CancelAll(); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("speak did not stop after CancelAll")
	}
}

func TestParseVoiceListAndSelect(t *testing.T) {
	t.Parallel()

	listing := []byte(`Alex                en_US    # Most people recognize me by my voice.
Kyoko               ja_JP    # こんにちは、私の名前はKyokoです。
Eddy (日本語（日本）) ja_JP    # こんにちは！私の名前はEddyです。
Otoya               ja_JP    # こんにちは、私の名前はOtoyaです。
`)
	voices := parseVoiceList(listing)
	if len(voices) != 4 {
		t.Fatalf("expected 4 voices, got %d", len(voices))
	}
	if voices[2].Name != "Eddy (日本語（日本）)" || voices[2].Language != "ja-JP" {
		t.Fatalf("unexpected voice: %+v", voices[2])
	}

	tests := []struct {
		language string
		index    int
		want     string
	}{
		{language: "ja-JP", index: 2, want: "Otoya"},
		{language: "ja_JP", index: 0, want: "Kyoko"},
		{language: "ja-JP", index: 7, want: ""},
		{language: "ja-JP", index: -1, want: ""},
		{language: "fr-FR", index: 0, want: ""},
	}
	for _, tt := range tests {
		if got := SelectVoice(voices, tt.language, tt.index); got != tt.want {
			t.Fatalf("SelectVoice(%s, %d) = %q, want %q", tt.language, tt.index, got, tt.want)
		}
	}
}

func TestSilentCompletesImmediately(t *testing.T) {
	t.Parallel()

	if err := (Silent{}).Speak(context.Background(), "字幕"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Silent{}).Speak(ctx, "字幕"); err == nil {
		t.Fatalf("expected cancelled context error")
	}
}
