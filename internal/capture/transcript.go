package capture

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// transcriptLine is one record of the host's session transcript, which is
// newline-delimited JSON. Assistant content may be a plain string or a list
// of typed blocks; both shapes appear in the wild.
type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ErrNoAssistantMessage means the transcript held no assistant turn.
var ErrNoAssistantMessage = errors.New("no assistant message in transcript")

// LastAssistantMessage extracts the text of the final assistant turn from a
// transcript file. Unparseable lines are skipped; the transcript is written
// concurrently by the host and a torn tail line is normal.
func LastAssistantMessage(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Message.Role != "assistant" && line.Type != "assistant" {
			continue
		}
		if text := blockText(line.Message.Content); text != "" {
			last = text
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	if last == "" {
		return "", ErrNoAssistantMessage
	}
	return last, nil
}

func blockText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return strings.TrimSpace(plain)
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
