// Package policytest provides deterministic policy models for tests.
package policytest

import (
	"encoding/json"
	"fmt"

	"github.com/signalsfoundry/intrusion-game/internal/policy"
)

// FitCall records one call to Fit.
type FitCall struct {
	Features []float64
	Target   []float64
}

// Func is a policy model whose scores come from a plain function. Fit never
// changes the scores; it records the call and reports Loss.
type Func struct {
	In, Out int
	Score   func(features []float64) []float64
	Loss    float64

	Fits []FitCall
}

var _ policy.Model = (*Func)(nil)

// Constant returns a model that always predicts scores.
func Constant(in int, scores ...float64) *Func {
	fixed := append([]float64(nil), scores...)
	return &Func{
		In:  in,
		Out: len(fixed),
		Score: func([]float64) []float64 {
			return append([]float64(nil), fixed...)
		},
	}
}

func (f *Func) InputSize() int  { return f.In }
func (f *Func) OutputSize() int { return f.Out }

func (f *Func) Predict(features []float64) ([]float64, error) {
	if f.Score == nil {
		panic(policy.ErrNotInitialized)
	}
	if len(features) != f.In {
		return nil, fmt.Errorf("%w: got %d features, want %d", policy.ErrDimension, len(features), f.In)
	}
	out := f.Score(features)
	if len(out) != f.Out {
		return nil, fmt.Errorf("%w: score func returned %d values, want %d", policy.ErrDimension, len(out), f.Out)
	}
	return out, nil
}

func (f *Func) Fit(features, target []float64) (float64, error) {
	if f.Score == nil {
		panic(policy.ErrNotInitialized)
	}
	f.Fits = append(f.Fits, FitCall{
		Features: append([]float64(nil), features...),
		Target:   append([]float64(nil), target...),
	})
	return f.Loss, nil
}

// Table is a policy model that returns fixed scores per feature vector and
// Default for any vector it has no row for. Fit stores the target as the new
// row, so a Table learns exactly what it is told.
type Table struct {
	In, Out int
	Default []float64

	rows map[string][]float64
}

var _ policy.Model = (*Table)(nil)

// NewTable builds an empty table whose unknown vectors score def.
func NewTable(in int, def ...float64) *Table {
	return &Table{In: in, Out: len(def), Default: append([]float64(nil), def...), rows: make(map[string][]float64)}
}

// Set pins the scores for one feature vector.
func (t *Table) Set(features []float64, scores ...float64) {
	t.rows[key(features)] = append([]float64(nil), scores...)
}

func (t *Table) InputSize() int  { return t.In }
func (t *Table) OutputSize() int { return t.Out }

func (t *Table) Predict(features []float64) ([]float64, error) {
	if t.rows == nil {
		panic(policy.ErrNotInitialized)
	}
	if len(features) != t.In {
		return nil, fmt.Errorf("%w: got %d features, want %d", policy.ErrDimension, len(features), t.In)
	}
	if row, ok := t.rows[key(features)]; ok {
		return append([]float64(nil), row...), nil
	}
	return append([]float64(nil), t.Default...), nil
}

// Fit replaces the row for features with target and returns the squared
// error of the previous prediction.
func (t *Table) Fit(features, target []float64) (float64, error) {
	prev, err := t.Predict(features)
	if err != nil {
		return 0, err
	}
	if len(target) != t.Out {
		return 0, fmt.Errorf("%w: got %d targets, want %d", policy.ErrDimension, len(target), t.Out)
	}
	loss := 0.0
	for i := range prev {
		d := prev[i] - target[i]
		loss += d * d
	}
	t.Set(features, target...)
	return loss / float64(t.Out), nil
}

type tableState struct {
	In      int                  `json:"in"`
	Default []float64            `json:"default"`
	Rows    map[string][]float64 `json:"rows"`
}

func (t *Table) MarshalBinary() ([]byte, error) {
	return json.Marshal(tableState{In: t.In, Default: t.Default, Rows: t.rows})
}

func (t *Table) UnmarshalBinary(data []byte) error {
	var st tableState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if st.In != t.In || len(st.Default) != t.Out {
		return fmt.Errorf("%w: stored %d -> %d, want %d -> %d", policy.ErrDimension, st.In, len(st.Default), t.In, t.Out)
	}
	t.Default = st.Default
	t.rows = st.Rows
	if t.rows == nil {
		t.rows = make(map[string][]float64)
	}
	return nil
}

func key(features []float64) string { return fmt.Sprint(features) }

type funcState struct {
	In   int     `json:"in"`
	Out  int     `json:"out"`
	Loss float64 `json:"loss"`
}

// MarshalBinary stores only the shape; the score function is code.
func (f *Func) MarshalBinary() ([]byte, error) {
	return json.Marshal(funcState{In: f.In, Out: f.Out, Loss: f.Loss})
}

func (f *Func) UnmarshalBinary(data []byte) error {
	var st funcState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if st.In != f.In || st.Out != f.Out {
		return fmt.Errorf("%w: stored %d -> %d, want %d -> %d", policy.ErrDimension, st.In, st.Out, f.In, f.Out)
	}
	f.Loss = st.Loss
	return nil
}
