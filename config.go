package refold

import (
	"io"

	"github.com/refold/refold/loopunroll"
)

// Config controls which passes run and which optional correctness gates
// and diagnostics are active, with the default implementation as
// NewConfig.
type Config struct {
	loopFold              bool
	loopUnroll            bool
	printLoopInstructions bool
	printProfilerLoop     bool
	removeSuffixTree      bool
	removeSubDDG          bool
	strictSymbolCompare   bool
	profile               *loopunroll.Profile
	out                   io.Writer
	debug                 io.Writer
}

// NewConfig returns a configuration with every pass disabled and output
// discarded.
func NewConfig() *Config {
	return &Config{out: io.Discard}
}

// clone ensures all fields are copied even if zero.
func (c *Config) clone() *Config {
	ret := *c
	return &ret
}

// WithLoopFold gates the loop re-rolling pass.
func (c *Config) WithLoopFold(enabled bool) *Config {
	ret := c.clone()
	ret.loopFold = enabled
	return ret
}

// WithLoopUnroll gates the loop unrolling pass.
func (c *Config) WithLoopUnroll(enabled bool) *Config {
	ret := c.clone()
	ret.loopUnroll = enabled
	return ret
}

// WithPrintLoopInstructions prints every discovered loop body to the
// output writer before the passes run.
func (c *Config) WithPrintLoopInstructions(enabled bool) *Config {
	ret := c.clone()
	ret.printLoopInstructions = enabled
	return ret
}

// WithPrintProfilerLoop prints the profile classification of each loop.
func (c *Config) WithPrintProfilerLoop(enabled bool) *Config {
	ret := c.clone()
	ret.printProfilerLoop = enabled
	return ret
}

// WithRemoveSuffixTree enables the group-continuity gate of the fold
// analysis.
func (c *Config) WithRemoveSuffixTree(enabled bool) *Config {
	ret := c.clone()
	ret.removeSuffixTree = enabled
	return ret
}

// WithRemoveSubDDG enables the dependency-closure gate of the fold
// analysis.
func (c *Config) WithRemoveSubDDG(enabled bool) *Config {
	ret := c.clone()
	ret.removeSubDDG = enabled
	return ret
}

// WithStrictSymbolCompare switches the addressing-mode equality to
// compare the symbol names of both operands.
func (c *Config) WithStrictSymbolCompare(enabled bool) *Config {
	ret := c.clone()
	ret.strictSymbolCompare = enabled
	return ret
}

// WithProfile attaches per-loop execution counts consumed by the unroll
// pass.
func (c *Config) WithProfile(p *loopunroll.Profile) *Config {
	ret := c.clone()
	ret.profile = p
	return ret
}

// WithOutput directs pass reports to w.
func (c *Config) WithOutput(w io.Writer) *Config {
	ret := c.clone()
	ret.out = w
	return ret
}

// WithDebug directs analysis traces to w.
func (c *Config) WithDebug(w io.Writer) *Config {
	ret := c.clone()
	ret.debug = w
	return ret
}
