package search

import "errors"

// ErrProposalFailure marks a proposer error: the language model was
// unreachable or its response unusable after retries. The affected node is
// degraded to terminal; the search continues.
var ErrProposalFailure = errors.New("proposal failure")

// ErrEvaluationFailure marks an evaluator error. The affected node is
// assigned the minimum-bound score; the search continues.
var ErrEvaluationFailure = errors.New("evaluation failure")

// ErrProviderUnavailable aborts a run after too many consecutive iterations
// in which every language-model call failed. The partial result extracted so
// far is still returned alongside it.
var ErrProviderUnavailable = errors.New("language model unavailable")
