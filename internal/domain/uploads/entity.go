package uploads

// StoredFile describes an accepted upload.
type StoredFile struct {
	Path         string `json:"filePath"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MirrorURL    string `json:"mirrorUrl,omitempty"`
}
