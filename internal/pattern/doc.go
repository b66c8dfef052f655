// Package pattern is the expression engine behind the light_pattern
// capability.
//
// A pattern is three float expressions (hue, saturation, value) over
// the variables theta, t and i, rendered per frame into HSV values.
// The evaluator is a small recursive-descent parser; malformed input
// degrades to zero rather than erroring, matching the forgiving
// semantics the pattern language has always had.
package pattern
