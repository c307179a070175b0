package model

// Session is the signed-in identity. It only lives in memory.
type Session struct {
	UID      string `json:"uid"`
	PhotoURI string `json:"photo_uri,omitempty"`
}
