// Package tokenizer counts tokens per model and trims chat history to a
// token budget. Models with a registered tiktoken encoding are counted
// exactly; anything else falls back to a character-class estimator.
package tokenizer
