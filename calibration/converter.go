package calibration

import (
	"fmt"
	"log"
	"sync"
)

// Converter applies the configured formula to voltage samples, falling
// back to the default calibration if the configured formula ever fails
// to evaluate. The fallback is permanent for the life of the converter:
// a formula that failed once is not retried on later samples.
type Converter struct {
	mu           sync.RWMutex
	formula      *Formula
	usingDefault bool
	fatal        error
}

// NewConverter wraps the given formula. Passing nil uses the default
// calibration directly.
func NewConverter(f *Formula) *Converter {
	if f == nil {
		return &Converter{formula: Default(), usingDefault: true}
	}
	return &Converter{formula: f, usingDefault: f.String() == DefaultExpr}
}

// SetFormula replaces the active formula, clearing any earlier fallback.
// Used when the calibration file changes on disk.
func (c *Converter) SetFormula(f *Formula) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.formula = f
	c.usingDefault = f.String() == DefaultExpr
	c.fatal = nil
}

// Formula returns the currently active formula.
func (c *Converter) Formula() *Formula {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.formula
}

// Err returns the fatal conversion error, if one has occurred.
func (c *Converter) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fatal
}

// Convert evaluates the active formula at v. If the configured formula
// fails, the default is substituted and the evaluation retried; if the
// default fails too, the error is fatal and reported on every subsequent
// call.
func (c *Converter) Convert(v float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return 0, c.fatal
	}
	res, err := c.formula.Eval(v)
	if err == nil {
		return res, nil
	}
	if c.usingDefault {
		c.fatal = fmt.Errorf("default calibration failed: %w", err)
		return 0, c.fatal
	}
	log.Printf("calibration formula %q failed (%v), reverting to default %q", c.formula, err, DefaultExpr)
	c.formula = Default()
	c.usingDefault = true
	res, err = c.formula.Eval(v)
	if err != nil {
		c.fatal = fmt.Errorf("default calibration failed: %w", err)
		return 0, c.fatal
	}
	return res, nil
}
