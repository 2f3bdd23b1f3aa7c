package purchase

import "context"

// OrchestratorOption configures an Orchestrator instance.
type OrchestratorOption func(*Orchestrator)

// OperationLogger records saga-level events emitted by Orchestrator operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one saga operation and its terminal result.
type OperationLog struct {
	Operation string
	Course    CourseID
	Token     CorrelationToken
	Amount    Amount
	Outcome   OutcomeState
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) OrchestratorOption {
	return func(orchestrator *Orchestrator) {
		orchestrator.logger = logger
	}
}
