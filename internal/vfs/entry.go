package vfs

import (
	"fmt"
	"slices"
)

// Kind tags what a path is known to be.
type Kind uint8

const (
	Missing Kind = iota
	Directory
	File
)

func (k Kind) String() string {
	switch k {
	case Directory:
		return "directory"
	case File:
		return "file"
	default:
		return "missing"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "missing", "":
		*k = Missing
	case "directory":
		*k = Directory
	case "file":
		*k = File
	default:
		return fmt.Errorf("unknown entry kind %q", b)
	}
	return nil
}

// Entry is what the store knows about one absolute path. Missing entries are
// confirmed-absent markers; Directory entries discovered remotely keep their
// listing so a replayed snapshot can answer readDir offline.
type Entry struct {
	Kind     Kind     `json:"kind"`
	Data     []byte   `json:"data,omitempty"`
	Children []string `json:"children,omitempty"`
}

func FileEntry(data []byte) Entry {
	return Entry{Kind: File, Data: data}
}

func DirEntry(children ...string) Entry {
	return Entry{Kind: Directory, Children: children}
}

func MissingEntry() Entry {
	return Entry{Kind: Missing}
}

func (e Entry) clone() Entry {
	return Entry{Kind: e.Kind, Data: slices.Clone(e.Data), Children: slices.Clone(e.Children)}
}

// Snapshot is the serializable form of a store: absolute path to entry.
// The key NoNetworkKey, when present, disables remote fetches.
type Snapshot map[string]Entry

// NoNetworkKey is the snapshot sentinel that turns the remote fallback off.
const NoNetworkKey = "__NOHTTP"

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for p, e := range s {
		out[p] = e.clone()
	}
	return out
}

// Info is the stat view of a path.
type Info struct {
	Kind Kind
	Size int64
}

func (i Info) IsDir() bool {
	return i.Kind == Directory
}
