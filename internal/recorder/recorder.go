// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package recorder writes live sessions to numbered text files that the
// logfile package can read back.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/timeutil"
)

// ErrNotRecording is returned by Write and Stop when no file is open.
var ErrNotRecording = errors.New("no recording in progress")

// ErrAlreadyRecording is returned by Start while a file is open.
var ErrAlreadyRecording = errors.New("recording already in progress")

var fileRe = regexp.MustCompile(`^Research_(\d{6})_.*\.txt$`)

// Recorder owns at most one open session file.
type Recorder struct {
	dir   string
	clock timeutil.Clock
	log   *zap.Logger

	next int

	file    *os.File
	w       *bufio.Writer
	path    string
	number  int
	base    int64
	hasBase bool
}

// New prepares dir and picks the next research number from the files
// already there.
func New(dir string, clock timeutil.Clock, log *zap.Logger) (*Recorder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	r := &Recorder{dir: dir, clock: clock, log: log}
	if err := r.rescan(); err != nil {
		return nil, err
	}
	return r, nil
}

// rescan sets next to one past the highest number found in dir.
func (r *Recorder) rescan() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("scan recording dir: %w", err)
	}
	highest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := fileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	r.next = highest + 1
	return nil
}

// Start opens a new session file and writes its header.
func (r *Recorder) Start() (string, error) {
	if r.file != nil {
		return "", ErrAlreadyRecording
	}

	now := r.clock.Now()
	name := fmt.Sprintf("Research_%06d_%s.txt", r.next, now.Format("2006_01_02_15_04_05"))
	path := filepath.Join(r.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}
	w := bufio.NewWriter(f)
	_, err = fmt.Fprintf(w, "##########\n# Исследование № %06d\n# %s\n##########\n",
		r.next, now.Format("2006-01-02 15:04:05"))
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write recording header: %w", err)
	}

	r.file, r.w, r.path, r.number = f, w, path, r.next
	r.hasBase = false
	r.log.Info("recorder: started", zap.String("path", path), zap.Int("number", r.number))
	return path, nil
}

// Write appends s and flushes. Times are relative to the first sample
// written in this recording.
func (r *Recorder) Write(s orientation.Sample) error {
	if r.file == nil {
		return ErrNotRecording
	}
	if !r.hasBase {
		r.base, r.hasBase = s.Timestamp, true
	}
	rel := s.Timestamp - r.base
	if rel < 0 {
		rel = 0
	}
	_, err := fmt.Fprintf(r.w, "%010d;%.2f;%.2f;%.2f;%s;%s\n",
		rel, s.Pitch, s.Roll, s.Yaw, flag(s.PatientDizzy), flag(s.DoctorDizzy))
	if err == nil {
		err = r.w.Flush()
	}
	if err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	return nil
}

// Stop closes the file and advances the research number.
func (r *Recorder) Stop() (string, error) {
	if r.file == nil {
		return "", ErrNotRecording
	}
	path := r.path
	flushErr := r.w.Flush()
	closeErr := r.file.Close()
	r.file, r.w, r.path = nil, nil, ""

	if err := r.rescan(); err != nil {
		r.next = r.number + 1
		r.log.Warn("recorder: rescan failed", zap.Error(err))
	}
	r.log.Info("recorder: stopped", zap.String("path", path))

	if err := errors.Join(flushErr, closeErr); err != nil {
		return path, fmt.Errorf("close recording: %w", err)
	}
	return path, nil
}

// Active reports whether a file is open.
func (r *Recorder) Active() bool { return r.file != nil }

// Path is the open file, or "".
func (r *Recorder) Path() string { return r.path }

// Number is the research number the next Start will use.
func (r *Recorder) Number() int { return r.next }

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
