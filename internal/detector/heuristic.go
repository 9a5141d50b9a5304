package detector

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Thresholds for mapping the merged risk score onto a predicted action.
const (
	predictBlockThreshold    = 0.8
	predictSanitizeThreshold = 0.5
)

// HeuristicDetector fans out the payload to all scanners in parallel and
// merges their signals into a single verdict.
type HeuristicDetector struct {
	scanners []scanner
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHeuristicDetector creates the reference rule-based detector.
func NewHeuristicDetector(timeout time.Duration, logger *zap.Logger) *HeuristicDetector {
	return &HeuristicDetector{
		scanners: defaultScanners(),
		timeout:  timeout,
		logger:   logger,
	}
}

func (d *HeuristicDetector) Name() string { return "heuristic" }

// Analyze runs all scanners against the content and merges the results.
// Scanners that exceed the timeout are skipped.
//
// Each goroutine sends its signal through a buffered channel, so the main
// goroutine can safely read completed results without racing against in-flight
// writes. When the deadline fires we stop reading and merge whatever has been
// collected. Late-finishing goroutines send into the buffered channel (which
// has capacity for all scanners) and are never read; the channel is GC'd once
// all references are gone.
func (d *HeuristicDetector) Analyze(ctx context.Context, content string, reqCtx Context) (*Verdict, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ch := make(chan Signal, len(d.scanners))
	for _, s := range d.scanners {
		go func(s scanner) {
			ch <- s.Scan(ctx, content)
		}(s)
	}

	signals := make([]Signal, 0, len(d.scanners))
	remaining := len(d.scanners)
	for remaining > 0 {
		select {
		case sig := <-ch:
			signals = append(signals, sig)
			remaining--
		case <-ctx.Done():
			d.logger.Warn("scanner timeout exceeded, merging partial results",
				zap.Duration("timeout", d.timeout),
				zap.String("source", reqCtx.Source),
			)
			remaining = 0
		}
	}

	v := merge(content, signals)
	v.ProcessingTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
	return v, nil
}

// merge folds scanner signals into one verdict. Signals are sorted by scanner
// name first so the verdict is identical regardless of goroutine completion
// order — evaluation must be reproducible for audits.
func merge(content string, signals []Signal) *Verdict {
	sort.Slice(signals, func(i, j int) bool { return signals[i].Scanner < signals[j].Scanner })

	v := &Verdict{
		ThreatType:      ThreatNone,
		PredictedAction: PredictAllow,
		Features:        ComputeFeatures(content),
		Signals:         signals,
	}
	v.Features.InjectionPatterns = injectionScanner.matchCount(content)

	var best Signal
	var triggered []string
	for _, sig := range signals {
		if !sig.Triggered {
			continue
		}
		triggered = append(triggered, sig.Scanner)
		if sig.Confidence > best.Confidence {
			best = sig
		}
	}

	if best.Triggered {
		v.RiskScore = best.Confidence
		v.Confidence = best.Confidence
		v.ThreatType = refineThreat(best)
		v.Explanation = best.Details
		if len(triggered) > 1 {
			v.Explanation = "triggered: " + strings.Join(triggered, ", ") + "; " + best.Details
		}
		switch {
		case v.RiskScore >= predictBlockThreshold:
			v.PredictedAction = PredictBlock
		case v.RiskScore >= predictSanitizeThreshold:
			v.PredictedAction = PredictSanitize
		}
	}

	v.Normalize()
	return v
}
