package workflow

import "errors"

// ErrToolNotFound indicates a tool step referenced a tool id absent from the
// program.
var ErrToolNotFound = errors.New("workflow: tool not found")
