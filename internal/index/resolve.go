package index

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/coursebot/courserag/internal/utils"
)

type ResolveStatus int

const (
	NotFound ResolveStatus = iota
	Resolved
	// Ambiguous means several courses matched equally well and lexical
	// overlap could not separate them.
	Ambiguous
)

func (s ResolveStatus) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Resolution is the outcome of a course-name lookup. It is a value, not an
// error: a course that cannot be found is a normal result.
type Resolution struct {
	Status     ResolveStatus
	Title      string
	Candidates []string // Set when Status is Ambiguous
}

type scoredTitle struct {
	title   string
	score   float32
	lexical float64
}

// ResolveCourse maps a possibly partial or misspelled course name to a catalog title.
func (i *Index) ResolveCourse(ctx context.Context, fragment string) (Resolution, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return Resolution{Status: NotFound}, nil
	}

	recs, err := i.store.CatalogRecords(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load catalog: %w", err)
	}
	if len(recs) == 0 {
		return Resolution{Status: NotFound}, nil
	}
	for _, r := range recs {
		if strings.EqualFold(r.Course.Title, fragment) {
			return Resolution{Status: Resolved, Title: r.Course.Title}, nil
		}
	}

	qvec, err := i.queryVector(ctx, fragment)
	if err != nil {
		return Resolution{}, err
	}

	var above []scoredTitle
	for _, r := range recs {
		score, err := utils.CosineSimilarity(qvec, r.Embedding)
		if err != nil || score < i.threshold {
			continue
		}
		above = append(above, scoredTitle{title: r.Course.Title, score: score})
	}
	if len(above) == 0 {
		return Resolution{Status: NotFound}, nil
	}
	sort.Slice(above, func(a, b int) bool {
		if above[a].score != above[b].score {
			return above[a].score > above[b].score
		}
		return above[a].title < above[b].title
	})

	tied := above[:1]
	for _, c := range above[1:] {
		if above[0].score-c.score > i.tieMargin {
			break
		}
		tied = append(tied, c)
	}
	if len(tied) == 1 {
		return Resolution{Status: Resolved, Title: tied[0].title}, nil
	}

	for n := range tied {
		tied[n].lexical = utils.LexicalOverlap(fragment, tied[n].title)
	}
	sort.SliceStable(tied, func(a, b int) bool { return tied[a].lexical > tied[b].lexical })
	if tied[0].lexical > tied[1].lexical {
		return Resolution{Status: Resolved, Title: tied[0].title}, nil
	}

	res := Resolution{Status: Ambiguous}
	for _, c := range tied {
		if c.lexical == tied[0].lexical {
			res.Candidates = append(res.Candidates, c.title)
		}
	}
	sort.Strings(res.Candidates)
	return res, nil
}
