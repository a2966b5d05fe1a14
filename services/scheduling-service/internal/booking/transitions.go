package booking

import "github.com/avelk/studiodesk/services/scheduling-service/internal/model"

// allowedTransitions is the appointment state machine. pending_approval can
// never jump straight to completed; completed and cancelled are terminal.
var allowedTransitions = map[model.Status][]model.Status{
	model.StatusPendingApproval: {model.StatusConfirmed, model.StatusCancelled},
	model.StatusScheduled:       {model.StatusConfirmed, model.StatusCompleted, model.StatusCancelled},
	model.StatusConfirmed:       {model.StatusCompleted, model.StatusCancelled},
	model.StatusPending:         {model.StatusConfirmed, model.StatusCompleted, model.StatusCancelled},
	model.StatusCompleted:       nil,
	model.StatusCancelled:       nil,
}

func canTransition(from, to model.Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
