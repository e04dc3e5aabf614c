// Package ui asks the operator to approve sensitive operations.
package ui

import (
	"context"
	"errors"
	"sync"
)

type Outcome uint8

const (
	Reject Outcome = iota
	Accept
)

func (o Outcome) String() string {
	if o == Accept {
		return "accept"
	}
	return "reject"
}

// ErrNotInteractive is returned by prompters that have no operator to ask.
var ErrNotInteractive = errors.New("no interactive terminal")

type Field struct {
	Label string
	Value string
}

type Prompt struct {
	Title  string
	Fields []Field
}

// Prompter blocks until the operator answers. An error is always reported
// together with Reject.
type Prompter interface {
	Prompt(ctx context.Context, p Prompt) (Outcome, error)
}

// Static answers every prompt with the same outcome and remembers what it
// was asked.
type Static struct {
	outcome Outcome

	mu    sync.Mutex
	asked []Prompt
}

func NewStatic(o Outcome) *Static {
	return &Static{outcome: o}
}

func (s *Static) Prompt(ctx context.Context, p Prompt) (Outcome, error) {
	s.mu.Lock()
	s.asked = append(s.asked, p)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Reject, err
	}
	return s.outcome, nil
}

// Set changes the answer given to later prompts.
func (s *Static) Set(o Outcome) {
	s.mu.Lock()
	s.outcome = o
	s.mu.Unlock()
}

// Asked returns the prompts shown so far.
func (s *Static) Asked() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.asked...)
}
