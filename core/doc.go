// Package core defines the framework-neutral vocabulary shared by every meepo
// package:
//
//   - Message, ToolCall and Metadata (the canonical message model) plus the
//     provider format registry (ToProviderFormat / FromProviderFormat)
//   - Agent, Descriptor, RunConfig and RunResult (the capability contract)
//   - ToolSpec and ToolSet (framework-neutral tools)
//   - Memory and ReadResult (session-scoped conversation memory)
//   - ProviderConfig and Credentials
//   - the typed error taxonomy (*Error and its Kinds)
//
// The package has no knowledge of concrete frameworks or providers; adapters
// and providers live in their own packages and translate into these types.
package core
