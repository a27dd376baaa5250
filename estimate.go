package inferhub

// EstimateTokens provides a rough token count for a prompt.
// Uses the approximation: ~4 bytes per token, integer division.
func EstimateTokens(prompt string) int {
	return len(prompt) / 4
}
