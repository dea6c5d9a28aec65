package visibility

import (
	"sort"
	"strings"

	"github.com/louisbranch/omniscript/internal/world"
)

// Listing is one file entry prepared for a specific viewer.
type Listing struct {
	// Name is the canonical file key.
	Name string
	// DisplayName is the per-viewer rendering of the name.
	DisplayName string
	// Content is the per-viewer rendering of the file content.
	Content string
	Kind    world.FileKind
	// Hidden mirrors the file-level flag; only populated in debug mode,
	// where such entries are listed at all.
	Hidden bool
	// HasHiddenLayer flags content that still carries a hide[] span.
	HasHiddenLayer bool
}

// ListFiles prepares the file listing for a viewer. Files with the file-level
// hidden flag are omitted unless debug is set. Debug mode bypasses the hidden
// flag and per-viewer targeting but never reveals hide[] payloads.
func ListFiles(files map[string]world.File, viewer string, debug bool) []Listing {
	out := make([]Listing, 0, len(files))
	for _, file := range files {
		if file.IsHidden && !debug {
			continue
		}
		listing := Listing{
			Name:           file.Name,
			Kind:           file.Kind,
			Hidden:         file.IsHidden,
			HasHiddenLayer: ContainsHidden(file.Content),
		}
		if debug {
			listing.DisplayName = FileNamePrivileged(file.Name)
			listing.Content = RenderPrivileged(file.Content)
		} else {
			listing.DisplayName = FileName(file.Name, viewer)
			listing.Content = Render(file.Content, viewer)
		}
		out = append(out, listing)
	}

	sort.Slice(out, func(i, j int) bool {
		pi, pj := listingPriority(out[i]), listingPriority(out[j])
		if pi != pj {
			return pi < pj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// listingPriority orders the guide first, then rules, player sheets, and
// locations, matching how players expect to scan the file panel.
func listingPriority(l Listing) int {
	switch {
	case l.Name == "Guide.txt":
		return 0
	case strings.Contains(l.Name, "Rules"):
		return 1
	case l.Kind == world.KindPlayer:
		return 2
	case l.Kind == world.KindLocation:
		return 3
	}
	return 4
}
