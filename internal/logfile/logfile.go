// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package logfile reads recorded sessions: an optional '#' header followed
// by one delimited data line per sample.
package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/protocol"
)

// ErrNoData is returned when a file holds no valid data line.
var ErrNoData = errors.New("log file has no valid data lines")

// NoStudyInfo is shown when a log carries no header.
const NoStudyInfo = "study information not found"

const (
	headerLines = 5
	separator   = "##########"
)

var (
	researchRe = regexp.MustCompile(`(?:Research|Исследование)\s*№\s*(\d{6})|Research_(\d{6})_`)
	dateRe     = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`)
)

// Metadata is the study description taken from the header.
type Metadata struct {
	Lines          []string `json:"lines,omitempty"`
	Info           string   `json:"info"`
	ResearchNumber string   `json:"research_number,omitempty"`
	Date           string   `json:"date,omitempty"`
}

// Title is a one-line label such as "Research № 000042 [2026-03-01 10:00:00]".
func (m Metadata) Title() string {
	switch {
	case m.ResearchNumber != "" && m.Date != "":
		return fmt.Sprintf("Research № %s [%s]", m.ResearchNumber, m.Date)
	case m.ResearchNumber != "":
		return "Research № " + m.ResearchNumber
	case m.Date != "":
		return "Research [" + m.Date + "]"
	default:
		return m.Info
	}
}

// Stats counts what happened to the data lines.
type Stats struct {
	Lines    int `json:"lines"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Log is a fully parsed session, samples in non-decreasing time order.
type Log struct {
	Samples  orientation.Samples
	Metadata Metadata
	Stats    Stats
}

// TotalTime is the timestamp of the last sample.
func (l *Log) TotalTime() int64 {
	if len(l.Samples) == 0 {
		return 0
	}
	return l.Samples[len(l.Samples)-1].Timestamp
}

// Load opens and parses path.
func Load(path string, log *zap.Logger) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()

	l, err := Parse(f, log)
	if err != nil {
		return nil, fmt.Errorf("parse log %s: %w", path, err)
	}
	if l.Metadata.ResearchNumber == "" {
		l.Metadata.ResearchNumber = researchNumber(path)
	}
	return l, nil
}

// Parse reads a session from r. Rejected and time-reversed lines are
// skipped and counted; the result is ErrNoData if nothing survives.
func Parse(r io.Reader, log *zap.Logger) (*Log, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		out     = &Log{}
		dec     protocol.Decoder
		ctx     = protocol.Context{Source: protocol.Log}
		lineNum int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, separator) {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if lineNum <= headerLines {
				if h := strings.TrimSpace(strings.TrimLeft(line, "#")); h != "" {
					out.Metadata.Lines = append(out.Metadata.Lines, h)
				}
			}
			continue
		}

		out.Stats.Lines++
		s, err := dec.Decode(line, ctx)
		if err != nil {
			out.Stats.Rejected++
			log.Debug("logfile: line rejected", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		if n := len(out.Samples); n > 0 && s.Timestamp < out.Samples[n-1].Timestamp {
			out.Stats.Rejected++
			log.Debug("logfile: time goes backwards", zap.Int("line", lineNum), zap.Int64("time", s.Timestamp))
			continue
		}
		out.Samples = append(out.Samples, s)
		out.Stats.Accepted++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", lineNum+1, err)
	}

	out.Metadata.fill()
	if len(out.Samples) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func (m *Metadata) fill() {
	if len(m.Lines) == 0 {
		m.Info = NoStudyInfo
		return
	}
	m.Info = strings.Join(m.Lines, " | ")
	for _, l := range m.Lines {
		if m.ResearchNumber == "" {
			m.ResearchNumber = researchNumber(l)
		}
		if m.Date == "" {
			m.Date = dateRe.FindString(l)
		}
	}
}

func researchNumber(s string) string {
	m := researchRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
