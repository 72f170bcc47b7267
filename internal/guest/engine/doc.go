// Package engine evaluates guest source on goja. It implements the module
// loader's Evaluator, runs bootstrap scripts, and converts between goja
// exceptions and structured guest errors.
package engine
