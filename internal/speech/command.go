package speech

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const stopGrace = 300 * time.Millisecond

// CommandEngine voices text by running a local synthesizer such as macOS say
// or espeak-ng, one process per utterance.
type CommandEngine struct {
	command string
	voice   string
	rate    int

	mu        sync.Mutex
	processes map[*os.Process]struct{}
}

func NewCommandEngine(command, voice string, rate int) *CommandEngine {
	if command == "" {
		command = "say"
	}
	return &CommandEngine{
		command:   command,
		voice:     voice,
		rate:      rate,
		processes: make(map[*os.Process]struct{}),
	}
}

func (e *CommandEngine) Voice() string { return e.voice }

// Speak runs the synthesizer and waits for it to exit. Cancelling ctx
// interrupts the process.
func (e *CommandEngine) Speak(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(e.command, e.args(trimmed)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", filepath.Base(e.command), err)
	}
	e.track(cmd.Process)
	defer e.untrack(cmd.Process)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("%s failed: %w: %s", filepath.Base(e.command), err, strings.TrimSpace(stderr.String()))
		}
		return nil
	case <-ctx.Done():
		stopProcess(cmd.Process, waitErr)
		return ctx.Err()
	}
}

// CancelAll interrupts every running synthesizer process.
func (e *CommandEngine) CancelAll() error {
	e.mu.Lock()
	processes := make([]*os.Process, 0, len(e.processes))
	for p := range e.processes {
		processes = append(processes, p)
	}
	e.mu.Unlock()

	var errs []error
	for _, p := range processes {
		if err := p.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *CommandEngine) args(text string) []string {
	var args []string
	if e.voice != "" {
		args = append(args, "-v", e.voice)
	}
	if e.rate > 0 {
		flag := "-s"
		if isSay(e.command) {
			flag = "-r"
		}
		args = append(args, flag, strconv.Itoa(e.rate))
	}
	// Caption text may start with "-".
	return append(args, "--", text)
}

func (e *CommandEngine) track(p *os.Process) {
	e.mu.Lock()
	e.processes[p] = struct{}{}
	e.mu.Unlock()
}

func (e *CommandEngine) untrack(p *os.Process) {
	e.mu.Lock()
	delete(e.processes, p)
	e.mu.Unlock()
}

// stopProcess interrupts p and kills it if it has not exited within the
// grace period.
func stopProcess(p *os.Process, waitErr <-chan error) {
	_ = p.Signal(os.Interrupt)
	select {
	case <-waitErr:
	case <-time.After(stopGrace):
		_ = p.Kill()
		<-waitErr
	}
}

func isSay(command string) bool {
	return filepath.Base(command) == "say"
}

// Voice is one entry of a synthesizer's voice list.
type Voice struct {
	Name     string
	Language string
}

// ListVoices asks the synthesizer for its voices. Only say's "-v ?" listing
// format is understood.
func ListVoices(ctx context.Context, command string) ([]Voice, error) {
	if command == "" {
		command = "say"
	}
	out, err := exec.CommandContext(ctx, command, "-v", "?").Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseVoiceList(out), nil
}

// parseVoiceList reads lines like "Kyoko               ja_JP    # こんにちは".
func parseVoiceList(out []byte) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		lang := fields[len(fields)-1]
		name := strings.Join(fields[:len(fields)-1], " ")
		voices = append(voices, Voice{Name: name, Language: normalizeLanguage(lang)})
	}
	return voices
}

// SelectVoice picks the index-th voice for language. An out of range index,
// or a language with no voices, yields "" so the synthesizer keeps its
// default voice.
func SelectVoice(voices []Voice, language string, index int) string {
	language = normalizeLanguage(language)
	var matching []string
	for _, v := range voices {
		if v.Language == language {
			matching = append(matching, v.Name)
		}
	}
	if index < 0 || index >= len(matching) {
		return ""
	}
	return matching[index]
}

func normalizeLanguage(language string) string {
	return strings.ReplaceAll(strings.TrimSpace(language), "_", "-")
}
