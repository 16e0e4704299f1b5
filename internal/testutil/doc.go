// Package testutil contains fluent builders and doubles shared by package
// tests: MessageBuilder for canonical messages, StubAgent for capability
// contract agents and RecordingLogger for asserting on log events.
package testutil
