// Package sagaorch provides an orchestrator for distributed sagas in Go.
//
// A saga drives a business transaction across independently owned services.
// Each step has a forward action and a compensating action. When a forward
// action fails, every step that already completed is compensated, newest
// first, instead of committing atomically.
//
// Overview
//
//  1. Describe the steps of your saga:
//     - Each StepSpec names a forward address, a compensation address and a
//     PayloadBuilder that maps the trigger and transaction id to a request.
//     - Use NewDefinition or NewDefinitionBuilder to freeze them in order.
//  2. Register the definition:
//     - Create a DefinitionRegistry and Register each saga type.
//  3. Create an Orchestrator:
//     - Pass the registry and a StepExecutor. HTTPExecutor calls participants
//     over HTTP; wrap it in a RetryingExecutor for bounded retries.
//     - Options set the Store, logger, metrics, event sink and timeouts.
//  4. Run your saga:
//     - ExecuteSaga blocks until the saga is COMPLETED or COMPENSATED and
//     returns the instance with every step result.
//     - GetStatus returns a consistent snapshot of a saga at any time, also
//     while it is still running.
//
// See the orderflow package for a complete three-step order saga.
package sagaorch
