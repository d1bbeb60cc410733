package strand

import "errors"

var (
	// ErrAgentNotFound indicates an agent id absent from the loaded program.
	ErrAgentNotFound = errors.New("strand: agent not found")

	// ErrWorkflowNotFound indicates a workflow id absent from the loaded
	// program.
	ErrWorkflowNotFound = errors.New("strand: workflow not found")
)
