package chat

// SearchResult is the transient product of the search augmenter; its
// lifetime is a single request. A nil *SearchResult means "no augmentation".
type SearchResult struct {
	Query     string `json:"query"`
	Snippet   string `json:"snippet"`
	SourceURL string `json:"source_url"`
}
