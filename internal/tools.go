//go:build tools
// +build tools

// Package tools pins versions of golint, goimports (used by internal/tool's
// "fmt" command) and stringer, the way go.mod pins library versions;
// golangci-lint, which the "lint" command runs, is not pinned here. A blank
// import here is enough for `go mod tidy` to keep the
// module in go.sum even though nothing else in the tree imports it.
package tools

import (
	_ "golang.org/x/lint/golint"
	_ "golang.org/x/tools/cmd/goimports"
	_ "golang.org/x/tools/cmd/stringer"
)
