// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/motion_classifier/internal/blockwise"
	"github.com/relabs-tech/motion_classifier/internal/classifier"
	"github.com/relabs-tech/motion_classifier/internal/resultcodec"
	"github.com/relabs-tech/motion_classifier/internal/window"
)

// Upload paths. The receiver decodes a payload according to its path.
const (
	PathClassification = "classification"
	PathWindow         = "window"
)

// State is the phase of the classification cycle.
type State int32

const (
	StateIdle State = iota
	StateSampling
	StateInferring
	StateEncoding
	StateUploading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateInferring:
		return "inferring"
	case StateEncoding:
		return "encoding"
	case StateUploading:
		return "uploading"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrCycleInProgress  = errors.New("classification cycle already in progress")
	ErrIncompleteWindow = errors.New("feature window not fully sampled")
)

// ClassifierError wraps a failure reported by the classifier, including a
// sensor failure surfacing through the signal it was pulling.
type ClassifierError struct {
	Err error
}

func (e *ClassifierError) Error() string { return "classifier: " + e.Err.Error() }
func (e *ClassifierError) Unwrap() error { return e.Err }

// UploadError is a failed upload of one payload path.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload %s: %v", e.Path, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// Uploader streams a payload to the remote endpoint as one blockwise session.
type Uploader interface {
	Upload(ctx context.Context, path string, p blockwise.BlockProducer) error
}

// Controller runs classification cycles, one at a time.
type Controller struct {
	collector *window.Collector
	clf       classifier.Classifier
	enc       *resultcodec.Encoder
	up        Uploader
	observers []Observer

	state  atomic.Int32
	cycles atomic.Uint64
	raw    []byte
}

// NewController wires a controller. enc must have been built for clf's labels.
func NewController(collector *window.Collector, clf classifier.Classifier, enc *resultcodec.Encoder, up Uploader, observers ...Observer) *Controller {
	return &Controller{
		collector: collector,
		clf:       clf,
		enc:       enc,
		up:        up,
		observers: observers,
		raw:       make([]byte, 0, collector.TotalLength()*window.BytesPerFeature),
	}
}

// State is the current phase.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Run starts a cycle for every trigger received until ctx ends.
func (c *Controller) Run(ctx context.Context, triggers <-chan struct{}) error {
	log.Info().Msg("controller: waiting for triggers")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-triggers:
			if _, err := c.RunCycle(ctx); errors.Is(err, ErrCycleInProgress) {
				log.Warn().Msg("controller: trigger while a cycle is running")
			}
		}
	}
}

// RunCycle samples, classifies, encodes and uploads once. The returned error
// is the first stage failure, also recorded in the report; the controller is
// idle again when RunCycle returns.
func (c *Controller) RunCycle(ctx context.Context) (Report, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateSampling)) {
		return Report{}, ErrCycleInProgress
	}
	defer c.setState(StateIdle)

	rep := Report{Cycle: c.cycles.Add(1), Started: time.Now()}
	err := c.cycle(ctx, &rep)
	rep.Duration = time.Since(rep.Started)

	for _, o := range c.observers {
		o.ObserveCycle(rep)
	}
	return rep, err
}

func (c *Controller) cycle(ctx context.Context, rep *Report) error {
	c.collector.Reset()

	preds, err := c.clf.Classify(ctx, &cycleSignal{c: c})
	if err != nil {
		rep.ClassifyErr = &ClassifierError{Err: err}
		log.Error().Err(err).Uint64("cycle", rep.Cycle).Msg("classification failed")
		return rep.ClassifyErr
	}
	rep.Predictions = preds

	c.setState(StateEncoding)
	encoded, err := c.enc.Encode(preds)
	if err != nil {
		rep.EncodeErr = err
		log.Error().Err(err).Uint64("cycle", rep.Cycle).Msg("result encoding failed")
		return err
	}

	c.setState(StateUploading)
	rep.Uploads = append(rep.Uploads, c.upload(ctx, PathClassification, encoded))

	if c.collector.Complete() {
		c.raw = window.AppendWindow(c.raw[:0], c.collector.Window())
		rep.Uploads = append(rep.Uploads, c.upload(ctx, PathWindow, c.raw))
	} else {
		rep.Uploads = append(rep.Uploads, UploadResult{
			Path: PathWindow,
			Err:  &UploadError{Path: PathWindow, Err: ErrIncompleteWindow},
		})
		log.Warn().Uint64("cycle", rep.Cycle).Msg("window upload skipped, classifier did not pull the whole window")
	}

	for _, u := range rep.Uploads {
		if u.Err != nil {
			return u.Err
		}
	}
	return nil
}

func (c *Controller) upload(ctx context.Context, path string, payload []byte) UploadResult {
	res := UploadResult{Path: path, Bytes: len(payload)}
	if err := c.up.Upload(ctx, path, blockwise.NewDriver(payload)); err != nil {
		res.Err = &UploadError{Path: path, Err: err}
		log.Error().Err(err).Str("path", path).Msg("upload failed")
	}
	return res
}

// cycleSignal hands the collector to the classifier and moves the cycle to
// Inferring once every element of the window has been sampled.
type cycleSignal struct {
	c *Controller
}

func (s *cycleSignal) TotalLength() int {
	return s.c.collector.TotalLength()
}

func (s *cycleSignal) Fill(ctx context.Context, offset, length int, dst []float32) error {
	if err := s.c.collector.Fill(ctx, offset, length, dst); err != nil {
		return err
	}
	if s.c.State() == StateSampling && s.c.collector.Complete() {
		s.c.setState(StateInferring)
	}
	return nil
}
