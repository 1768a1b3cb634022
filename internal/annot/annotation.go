package annot

// Reply is one entry in an annotation's append-only discussion thread.
type Reply struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserColor string `json:"userColor"`
	Comment   string `json:"comment"`
	Timestamp int64  `json:"timestamp"`
}

// Annotation is a comment attached to a range of document text. The engine
// treats it as a value type; ownership of persisted annotations lies with the
// store. Two annotations may carry overlapping or identical ranges.
//
// An ephemeral annotation (IsEphemeral) has a bounded lifetime enforced by
// the in-memory ActiveSet, never by storage.
type Annotation struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	UserColor   string    `json:"userColor"`
	Range       TextRange `json:"range"`
	Comment     string    `json:"comment"`
	Timestamp   int64     `json:"timestamp"`
	Replies     []Reply   `json:"replies"`
	IsEphemeral bool      `json:"isTemporary,omitempty"`
}
