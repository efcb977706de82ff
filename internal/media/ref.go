package media

import (
	"fmt"
	"strings"
)

// Kind tags the variant held by a Ref.
type Kind int

const (
	KindRemoteURL Kind = iota + 1
	KindLocalPath
	KindInlineBytes
)

func (k Kind) String() string {
	switch k {
	case KindRemoteURL:
		return "remote_url"
	case KindLocalPath:
		return "local_path"
	case KindInlineBytes:
		return "inline_bytes"
	default:
		return "unknown"
	}
}

// Ref is an image reference produced by extraction: a remote URL, a local
// path or an inline binary payload.
type Ref struct {
	Kind     Kind
	Location string // URL or path; empty for inline bytes
	Data     []byte // inline payload only
}

func RemoteURL(u string) Ref { return Ref{Kind: KindRemoteURL, Location: u} }

func LocalPath(p string) Ref { return Ref{Kind: KindLocalPath, Location: p} }

func InlineBytes(b []byte) Ref { return Ref{Kind: KindInlineBytes, Data: b} }

// Classify maps a textual image target (as written in a document) to a
// remote or local reference.
func Classify(target string) Ref {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return RemoteURL(target)
	}
	return LocalPath(target)
}

func (r Ref) String() string {
	if r.Kind == KindInlineBytes {
		return fmt.Sprintf("%s(%d bytes)", r.Kind, len(r.Data))
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Location)
}
