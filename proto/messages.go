package proto

// File is one uploaded document. Content travels base64-encoded in JSON.
type File struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

type SubmitRequest struct {
	Files []File `json:"files"`
}

type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type SubmitResponse struct {
	Accepted []string    `json:"accepted"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

type CancelRequest struct {
	Id string `json:"id"`
}

type CancelResponse struct {
	Id string `json:"id"`
}

type SnapshotRequest struct{}

type PurchaseOrder struct {
	PoNumber    string  `json:"po_number"`
	VendorName  string  `json:"vendor_name"`
	TotalAmount float64 `json:"total_amount"`
	LineItems   int32   `json:"line_items"`
}

type Item struct {
	Id        string         `json:"id"`
	FileName  string         `json:"file_name"`
	MediaType string         `json:"media_type"`
	Size      int64          `json:"size"`
	State     string         `json:"state"`
	Progress  int32          `json:"progress"`
	Result    *PurchaseOrder `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type SnapshotResponse struct {
	Items []Item `json:"items"`
}

type CreditsRequest struct{}

type CreditsResponse struct {
	Remaining int32 `json:"remaining"`
}
