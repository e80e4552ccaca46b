package rooms

type haltResponse struct {
	RoomID     string `json:"roomId"`
	Task       string `json:"task"`
	Pending    int    `json:"pending"`
	Error      string `json:"error"`
	EnqueuedAt string `json:"enqueuedAt"`
}

type haltedResponse struct {
	Rooms []haltResponse `json:"rooms"`
}

type resumeResponse struct {
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}
