package dedup

import (
	"errors"
	"time"

	"horse.fit/curation/internal/fingerprint"
	"horse.fit/curation/internal/lifecycle"
)

var ErrChain = errors.New("duplicate must point at a cluster root")

// Record is the slice of a curation record the resolver needs.
type Record struct {
	ArticleID        string
	ContentHash      string
	Simhash          uint64
	Status           lifecycle.Status
	PrimaryArticleID string
	CreatedAt        time.Time
}

func (r Record) Bands() [fingerprint.BandCount]uint16 {
	return fingerprint.SplitBands(r.Simhash)
}

// Before orders records by insertion time, then article_id.
func (r Record) Before(other Record) bool {
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.Before(other.CreatedAt)
	}
	return r.ArticleID < other.ArticleID
}

func (r Record) exactMatch(other Record) bool {
	return r.ContentHash != "" && r.ContentHash == other.ContentHash
}

// Assignment is one status write produced by a resolution.
type Assignment struct {
	ArticleID        string
	Status           lifecycle.Status
	PrimaryArticleID string
}

type Decision string

const (
	DecisionNewCluster Decision = "new_cluster"
	DecisionJoined     Decision = "joined"
	DecisionTakeover   Decision = "takeover"
	DecisionSkipped    Decision = "skipped"
)

// Resolution is applied atomically by the store.
type Resolution struct {
	ArticleID   string
	PrimaryID   string
	Decision    Decision
	Assignments []Assignment
}

// Violation describes a duplicate whose primary pointer is broken.
type Violation struct {
	ArticleID        string
	PrimaryArticleID string
	Reason           string
}

// CheckChains scans records for duplicate pointers that are dangling,
// self-referential or multi-hop.
func CheckChains(records []Record) []Violation {
	byID := make(map[string]Record, len(records))
	for _, r := range records {
		byID[r.ArticleID] = r
	}

	var out []Violation
	for _, r := range records {
		switch {
		case r.Status == lifecycle.StatusDuplicate && r.PrimaryArticleID == "":
			out = append(out, Violation{ArticleID: r.ArticleID, Reason: "duplicate without primary"})
		case r.Status == lifecycle.StatusDuplicate && r.PrimaryArticleID == r.ArticleID:
			out = append(out, Violation{ArticleID: r.ArticleID, PrimaryArticleID: r.PrimaryArticleID, Reason: "self reference"})
		case r.Status == lifecycle.StatusDuplicate:
			primary, ok := byID[r.PrimaryArticleID]
			if !ok {
				out = append(out, Violation{ArticleID: r.ArticleID, PrimaryArticleID: r.PrimaryArticleID, Reason: "primary missing"})
			} else if !primary.Status.IsClusterRoot() {
				out = append(out, Violation{ArticleID: r.ArticleID, PrimaryArticleID: r.PrimaryArticleID, Reason: "primary is " + string(primary.Status)})
			}
		case r.Status.IsClusterRoot() && r.PrimaryArticleID != "":
			out = append(out, Violation{ArticleID: r.ArticleID, PrimaryArticleID: r.PrimaryArticleID, Reason: "root with primary pointer"})
		}
	}
	return out
}
