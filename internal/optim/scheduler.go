package optim

import (
	"fmt"
	"math"
)

// Scheduler adjusts an optimizer's learning rate over epochs. Step is
// called once per epoch after the batch loop; LastLR reports the rate the
// next epoch will train with.
type Scheduler interface {
	Step()
	LastLR() float32
}

// StepLR multiplies the learning rate by gamma every stepSize epochs.
type StepLR struct {
	opt      Optimizer
	initial  float32
	stepSize int
	gamma    float32
	epoch    int
}

func NewStepLR(opt Optimizer, stepSize int, gamma float32) (*StepLR, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("optim: step size must be positive, got %d", stepSize)
	}
	if gamma <= 0 {
		return nil, fmt.Errorf("optim: gamma must be positive, got %v", gamma)
	}
	return &StepLR{opt: opt, initial: opt.GetLR(), stepSize: stepSize, gamma: gamma}, nil
}

func (s *StepLR) Step() {
	s.epoch++
	factor := math.Pow(float64(s.gamma), float64(s.epoch/s.stepSize))
	s.opt.SetLR(s.initial * float32(factor))
}

func (s *StepLR) LastLR() float32 { return s.opt.GetLR() }

// ExponentialLR decays the learning rate by gamma every epoch.
type ExponentialLR struct {
	opt     Optimizer
	initial float32
	gamma   float32
	epoch   int
}

func NewExponentialLR(opt Optimizer, gamma float32) (*ExponentialLR, error) {
	if gamma <= 0 {
		return nil, fmt.Errorf("optim: gamma must be positive, got %v", gamma)
	}
	return &ExponentialLR{opt: opt, initial: opt.GetLR(), gamma: gamma}, nil
}

func (e *ExponentialLR) Step() {
	e.epoch++
	e.opt.SetLR(e.initial * float32(math.Pow(float64(e.gamma), float64(e.epoch))))
}

func (e *ExponentialLR) LastLR() float32 { return e.opt.GetLR() }

// CosineAnnealingLR anneals the learning rate from its initial value to
// etaMin along a half cosine over tMax epochs.
type CosineAnnealingLR struct {
	opt     Optimizer
	initial float32
	tMax    int
	etaMin  float32
	epoch   int
}

func NewCosineAnnealingLR(opt Optimizer, tMax int, etaMin float32) (*CosineAnnealingLR, error) {
	if tMax <= 0 {
		return nil, fmt.Errorf("optim: t_max must be positive, got %d", tMax)
	}
	return &CosineAnnealingLR{opt: opt, initial: opt.GetLR(), tMax: tMax, etaMin: etaMin}, nil
}

func (c *CosineAnnealingLR) Step() {
	c.epoch++
	phase := math.Pi * float64(c.epoch) / float64(c.tMax)
	lr := float64(c.etaMin) + float64(c.initial-c.etaMin)*(1+math.Cos(phase))/2
	c.opt.SetLR(float32(lr))
}

func (c *CosineAnnealingLR) LastLR() float32 { return c.opt.GetLR() }
