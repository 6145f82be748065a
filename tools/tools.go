//go:build tools

// Package tools documents development tool dependencies.
// They are run through `go run` at a pinned version and are not tracked in go.mod.
package tools

// mockgen - regenerates the gomock doubles in internal/mocks
//   Run: go generate ./internal/mocks
//   Version: go.uber.org/mock/mockgen@v0.6.0 (matches the go.uber.org/mock require)
//
// golangci-lint - the nolint directives in cmd/ and internal/bootstrap target it
//   Install: go install github.com/golangci/golangci-lint/v2/cmd/golangci-lint@latest
