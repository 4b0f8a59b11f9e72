// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scanner

import (
	"fmt"
	"math"
	"time"

	"github.com/AleutianAI/sbh/internal/config"
)

// Action is the scorer's recommendation for one candidate.
type Action string

const (
	ActionKeep    Action = "keep"
	ActionPropose Action = "propose"
	ActionDelete  Action = "delete"
)

// CandidateInput is everything the scorer needs about one directory.
type CandidateInput struct {
	Path           string
	SizeBytes      int64
	Age            time.Duration
	Classification Classification
	Signals        Signals

	// IsOpen is true when a process holds a file under this path open;
	// OpenPIDs lists the holders for the veto reason.
	IsOpen   bool
	OpenPIDs []int

	// Excluded marks paths under a configured exclusion that were
	// scored anyway (manual scan of an excluded root).
	Excluded bool
}

// Factors breaks the score into its components for the dashboard and
// the activity log.
type Factors struct {
	Location           float64 `json:"location"`
	Name               float64 `json:"name"`
	Age                float64 `json:"age"`
	Size               float64 `json:"size"`
	Structure          float64 `json:"structure"`
	PressureMultiplier float64 `json:"pressure_multiplier"`
}

// CandidacyScore is the scorer's verdict. Veto is orthogonal to the
// score and always dominates: a vetoed candidate never reaches
// ActionDelete regardless of TotalScore.
type CandidacyScore struct {
	Path      string  `json:"path"`
	SizeBytes int64   `json:"size_bytes"`
	AgeHours  float64 `json:"age_hours"`

	Category    Category `json:"category"`
	PatternName string   `json:"pattern_name"`

	Factors    Factors `json:"factors"`
	TotalScore float64 `json:"total_score"`
	Action     Action  `json:"action"`

	Vetoed     bool   `json:"vetoed"`
	VetoReason string `json:"veto_reason,omitempty"`
}

// Scorer turns CandidateInputs into CandidacyScores using the
// configured weights and cutoffs.
//
// # Thread Safety
//
// Scorer is immutable; share it across workers.
type Scorer struct {
	cfg        config.ScoringConfig
	minFileAge time.Duration
}

// NewScorer captures the scoring weights plus the minimum age veto
// from the scanner configuration.
func NewScorer(scoring config.ScoringConfig, minFileAge time.Duration) *Scorer {
	return &Scorer{cfg: scoring, minFileAge: minFileAge}
}

// Score computes the weighted factor sum scaled by the pressure
// multiplier, then applies the veto conditions. urgency is the
// monitor's [0,1] output; it maps linearly onto a multiplier in
// [1.0, 1.5].
func (s *Scorer) Score(in CandidateInput, urgency float64) CandidacyScore {
	f := Factors{
		Location:           in.Classification.LocationConfidence,
		Name:               in.Classification.NameConfidence,
		Age:                ageFactor(in.Age, s.cfg.AgeTauHours),
		Size:               sizeFactor(in.SizeBytes),
		Structure:          float64(in.Signals.Count()) / signalCount,
		PressureMultiplier: 1.0 + 0.5*clamp(urgency, 0, 1),
	}

	weighted := s.cfg.WeightLocation*f.Location +
		s.cfg.WeightName*f.Name +
		s.cfg.WeightAge*f.Age +
		s.cfg.WeightSize*f.Size +
		s.cfg.WeightStructure*f.Structure
	total := clamp(f.PressureMultiplier*weighted, 0, 1.5)

	score := CandidacyScore{
		Path:        in.Path,
		SizeBytes:   in.SizeBytes,
		AgeHours:    in.Age.Hours(),
		Category:    in.Classification.Category,
		PatternName: in.Classification.PatternName,
		Factors:     f,
		TotalScore:  total,
	}

	if reason := s.veto(in); reason != "" {
		score.Vetoed = true
		score.VetoReason = reason
		score.Action = ActionKeep
		return score
	}

	switch {
	case total >= s.cfg.MinScore:
		score.Action = ActionDelete
	case total >= s.cfg.MinScore/2:
		score.Action = ActionPropose
	default:
		score.Action = ActionKeep
	}
	return score
}

func (s *Scorer) veto(in CandidateInput) string {
	switch {
	case in.Excluded:
		return "path is excluded by configuration"
	case in.IsOpen:
		return fmt.Sprintf("open files held by pids %v", in.OpenPIDs)
	case in.Age < s.minFileAge:
		return fmt.Sprintf("age %s below minimum %s", in.Age.Round(time.Second), s.minFileAge)
	case in.Classification.Category == CategoryUnknown &&
		in.Classification.Confidence < s.cfg.MinConfidence:
		return fmt.Sprintf("unclassified with confidence %.2f below %.2f",
			in.Classification.Confidence, s.cfg.MinConfidence)
	case in.SizeBytes < s.cfg.MinSizeBytes:
		return fmt.Sprintf("size %d below minimum %d", in.SizeBytes, s.cfg.MinSizeBytes)
	}
	return ""
}

// ageFactor saturates toward 1 as the artifact ages: 1 - exp(-age/tau).
func ageFactor(age time.Duration, tauHours float64) float64 {
	if age <= 0 || tauHours <= 0 {
		return 0
	}
	return 1 - math.Exp(-age.Hours()/tauHours)
}

// sizeFactor maps bytes onto [0,1] logarithmically: 1 MiB scores 0,
// 10 TiB and beyond score 1.
func sizeFactor(size int64) float64 {
	if size <= 0 {
		return 0
	}
	mb := float64(size) / (1 << 20)
	if mb <= 1 {
		return 0
	}
	return clamp(math.Log10(mb)/4, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
