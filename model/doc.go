// Package model defines the provider-agnostic abstraction used by cognition
// endpoints to reach language models.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Report token usage so callers can price each call
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (Anthropic, OpenAI) implement Model in their own subpackages so
// the rest of layermesh stays decoupled from vendor SDKs.
package model
