package anthropic

// BuildCachedSystemBlocks constructs a system block with a 5-minute cache
// breakpoint. The oracle's instructions and few-shot examples are identical
// across every batch of a run, so later batches read them from cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
