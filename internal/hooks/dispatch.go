package hooks

import "context"

// Dispatcher fires a Context at every Registration for its Type and
// folds the returned Responses into a CombinedResult (spec §4.4).
type Dispatcher struct {
	Registry *Registry
}

// NewDispatcher wires a Dispatcher to a Registry.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{Registry: reg}
}

// Fire invokes every registered handler for hctx.Type in priority order
// and folds their responses. A Stop or Error response short-circuits the
// remaining handlers.
func (d *Dispatcher) Fire(ctx context.Context, hctx Context) CombinedResult {
	result := CombinedResult{ShouldContinue: true, Payload: hctx.Payload}

	for _, reg := range d.Registry.For(hctx.Type) {
		if reg.Once && reg.fired {
			continue
		}

		resp := reg.Handler.Handle(hctx)
		reg.fired = true

		switch resp.Kind {
		case Continue:
			// no-op, fall through to next handler

		case ContinueWith:
			result.Payload = resp.Data
			hctx.Payload = resp.Data

		case InjectMessage:
			result.InjectedText = append(result.InjectedText, resp.Text)

		case Skip:
			result.ShouldContinue = false
			return result

		case Stop:
			result.ShouldContinue = false
			result.StopReason = resp.Reason
			return result

		case ErrorResponse:
			result.ShouldContinue = false
			result.StopReason = resp.Reason
			result.ErrorMessage = resp.Reason
			return result
		}

		select {
		case <-ctx.Done():
			result.ShouldContinue = false
			result.StopReason = ctx.Err().Error()
			return result
		default:
		}
	}

	return result
}
