package model

// --- Remote Queue Structures (Matching the printer-queue function) ---

// PrintJob is one pending queue entry. It lives for a single dispatch attempt.
type PrintJob struct {
	ID      string `json:"id"`
	Content string `json:"conteudo_txt"`
}

// Payload returns the bytes streamed to the device.
func (j PrintJob) Payload() []byte {
	return []byte(j.Content)
}

// MarkPrintedRequest is the body of the acknowledgment call.
type MarkPrintedRequest struct {
	ID string `json:"id"`
}
