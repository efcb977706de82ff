package models

// Chunk is one ingested fragment of a document. Images holds local file
// paths the chunk references; it does not own the files.
type Chunk struct {
	ID     string         `json:"id"`
	Text   string         `json:"text"`
	Images []string       `json:"images"`
	Source string         `json:"source"`
	Meta   map[string]any `json:"meta"`
}

// TextPayload is the snapshot stored alongside a text-space point.
type TextPayload struct {
	ChunkID string         `json:"chunk_id"`
	Text    string         `json:"text"`
	Source  string         `json:"source"`
	Meta    map[string]any `json:"meta"`
}

// Map flattens the payload for storage in a vector index.
func (p TextPayload) Map() map[string]any {
	return map[string]any{
		"chunk_id": p.ChunkID,
		"text":     p.Text,
		"source":   p.Source,
		"meta":     metaOrEmpty(p.Meta),
	}
}

// ImagePayload is the snapshot stored alongside an image-space point.
type ImagePayload struct {
	ChunkID   string         `json:"chunk_id"`
	ImagePath string         `json:"image_path"`
	Source    string         `json:"source"`
	Meta      map[string]any `json:"meta"`
}

// Map flattens the payload for storage in a vector index.
func (p ImagePayload) Map() map[string]any {
	return map[string]any{
		"chunk_id":   p.ChunkID,
		"image_path": p.ImagePath,
		"source":     p.Source,
		"meta":       metaOrEmpty(p.Meta),
	}
}

// Hit is a single ranked search match.
type Hit struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// MultimodalResult is the response envelope of a text query against both
// collections. Texts and Images are modality-pure and never nil.
type MultimodalResult struct {
	Query  string `json:"query"`
	Texts  []Hit  `json:"texts"`
	Images []Hit  `json:"images"`
}

type UploadResult struct {
	Status string `json:"status"`
	File   string `json:"file"`
	Chunks int    `json:"chunks"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

func metaOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
