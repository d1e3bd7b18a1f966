package ai

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// DecodeStats summarises one DecodeSSE run.
type DecodeStats struct {
	Deltas    int
	Malformed int
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type lineKind int

const (
	lineIgnored lineKind = iota
	lineDone
	lineMalformed
	lineEmpty
	lineDelta
)

// parseLine classifies one upstream line and extracts its text delta.
func parseLine(line string) (string, lineKind) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, dataPrefix) {
		return "", lineIgnored
	}

	payload := strings.TrimSpace(trimmed[len(dataPrefix):])
	if payload == doneSentinel {
		return "", lineDone
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return "", lineMalformed
	}
	if len(ev.Choices) == 0 || ev.Choices[0].Delta.Content == "" {
		return "", lineEmpty
	}
	return ev.Choices[0].Delta.Content, lineDelta
}

// DecodeSSE reads chat-completion SSE lines from r and calls emit with every
// non-empty delta, in order. Lines that are not data lines, the [DONE]
// sentinel and payloads that fail to parse are dropped without stopping the
// stream. Reading continues until r is exhausted or emit returns false.
//
// The returned error is nil on a clean end of input.
func DecodeSSE(r io.Reader, emit func(delta string) bool) (DecodeStats, error) {
	var stats DecodeStats
	br := bufio.NewReader(r)

	for {
		line, err := br.ReadString('\n')
		if line != "" {
			delta, kind := parseLine(line)
			switch kind {
			case lineMalformed:
				stats.Malformed++
			case lineDelta:
				stats.Deltas++
				if !emit(delta) {
					return stats, nil
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, err
		}
	}
}
