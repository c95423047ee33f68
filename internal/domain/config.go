package domain

// KeyPrefix namespaces every key this service writes to the shared key-value store.
const KeyPrefix = "splitsearch:"

// Reserved field names understood by the search path.
const (
	// ScoreField requests ordering by relevance score instead of a fast field.
	ScoreField = "_score"
)
