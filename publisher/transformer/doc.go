// Package transformer provides implementations of the publisher.Transformer interface
// for converting change events to various sink-specific formats.
package transformer
