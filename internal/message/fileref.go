package message

// FileRefKind tags the retrieval strategy of a FileRef.
type FileRefKind string

// FileRef kinds, in the order the media layer tries them.
const (
	RefBytes        FileRefKind = "bytes"
	RefLocalPath    FileRefKind = "path"
	RefRemoteURL    FileRefKind = "url"
	RefNativeHandle FileRefKind = "native"
)

// FileRef is a tagged union pointing at media content. Exactly one of the
// payload fields matching Kind is set; consumers switch on Kind and never
// inspect the others.
type FileRef struct {
	Kind   FileRefKind `json:"kind,omitempty"`
	Data   []byte      `json:"-"`
	Path   string      `json:"path,omitempty"`
	URL    string      `json:"url,omitempty"`
	Handle any         `json:"-"` // platform-native media handle, opaque
}

// BytesRef wraps in-memory content.
func BytesRef(b []byte) FileRef { return FileRef{Kind: RefBytes, Data: b} }

// PathRef wraps an absolute local path.
func PathRef(p string) FileRef { return FileRef{Kind: RefLocalPath, Path: p} }

// URLRef wraps a remote HTTP(S) URL.
func URLRef(u string) FileRef { return FileRef{Kind: RefRemoteURL, URL: u} }

// HandleRef wraps a platform-native media handle.
func HandleRef(h any) FileRef { return FileRef{Kind: RefNativeHandle, Handle: h} }

// IsZero reports whether the ref points at nothing.
func (r FileRef) IsZero() bool { return r.Kind == "" }
