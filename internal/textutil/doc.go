// Package textutil provides small text helpers shared by the task builder,
// validators, and CLI: filesystem-safe path segments and display truncation.
package textutil
