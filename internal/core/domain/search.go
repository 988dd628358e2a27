package domain

// SearchResult is one web hit handed to a researcher as source material.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}
