// Package rules builds computed cells whose read function is an expression.
//
// Expressions name other cells through a cells.Catalog. Every cell an
// expression actually reads during an evaluation becomes a dependency, so a
// conditional such as `flag ? a : b` depends on a or b but never both at once.
// Three engines are available: expr (the default), CEL and JavaScript. The
// JavaScript engine needs the js_eval build tag.
package rules
