// Package bundle wraps the external bundletool binary that performs the
// actual bundle analysis and asset extraction. The daemon never parses bundle
// formats itself; it drives the tool and records what the tool reports.
package bundle

import (
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BundleInfo summarizes the container examined during analysis.
type BundleInfo struct {
	Filename     string `json:"filename"`
	SizeBytes    int64  `json:"size_bytes"`
	Signature    string `json:"signature"`
	Compression  string `json:"compression"`
	UnityVersion string `json:"unity_version"`
	Platform     string `json:"platform"`
	ObjectCount  int    `json:"object_count"`
}

// Asset describes a single extractable object inside the bundle.
type Asset struct {
	Index         int    `json:"index"`
	PathID        int64  `json:"path_id"`
	Name          string `json:"name"`
	Class         string `json:"class"`
	EstimatedSize int64  `json:"estimated_size"`
}

// ClassSummary counts the assets sharing one class.
type ClassSummary struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// Metadata is the full analysis result persisted on the session.
type Metadata struct {
	BundleInfo   BundleInfo     `json:"bundle_info"`
	Assets       []Asset        `json:"assets"`
	AssetClasses []ClassSummary `json:"asset_classes"`
	AnalyzedAt   time.Time      `json:"analyzed_at"`
}

// Selection narrows an extraction to particular assets, by inventory index,
// class, or path id. Empty fields mean no restriction on that axis.
type Selection struct {
	Indices []int    `json:"selected_assets,omitempty"`
	Classes []string `json:"classes,omitempty"`
	PathIDs []int64  `json:"path_ids,omitempty"`
}

// Empty reports whether the selection matches everything.
func (s Selection) Empty() bool {
	return len(s.Indices) == 0 && len(s.Classes) == 0 && len(s.PathIDs) == 0
}

// ProgressUpdate captures tool progress events.
type ProgressUpdate struct {
	Percent float64
	Stage   string
	Message string
}

var classTitle = cases.Title(language.English)

// DisplayClassName renders a raw tool class name for user-facing output,
// e.g. "textasset" becomes "Textasset" and "TextAsset" is left alone.
func DisplayClassName(class string) string {
	if class == "" {
		return "Unknown"
	}
	for _, r := range class {
		if r >= 'A' && r <= 'Z' {
			return class
		}
	}
	return classTitle.String(class)
}
