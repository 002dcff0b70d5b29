package domain

// PendingMarker occupies the answer slot of a chat entry until the reply arrives.
const PendingMarker = "…"

type ChatEntry struct {
	ID       int64  `json:"id"` // creation timestamp in ms, unique per process
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (e ChatEntry) Pending() bool { return e.Answer == PendingMarker }
