// Package budget provides token budget estimation for the context block
// handed to the generation model. Because the service supports multiple LLM
// backends with different tokenizers, it uses a conservative character-based
// heuristic: 1 token ≈ 4 characters of English prose. This deliberately
// under-estimates so retrieved passages never crowd out the answer.
package budget

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	// 4 chars/token is standard for English; 3 would be more aggressive but
	// risks overflowing smaller context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default budget for the assembled
	// passage context. Conservative enough to leave room for the system
	// prompt, the question, and the streamed answer on 8k-context models.
	DefaultMaxContextTokens = 4000
)

// Estimate returns a rough token count for s using the character heuristic.
// Non-empty strings always count as at least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}
