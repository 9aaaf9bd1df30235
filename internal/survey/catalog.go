// Package survey owns per-user questionnaire sessions: the state machine that
// decides what happens next, the store that serializes access per user, and
// the generation-tagged timers that pace question delivery.
package survey

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	ErrBackendUnavailable = errors.New("survey: backend unavailable")
	ErrNotFound           = errors.New("survey: not found")
	ErrRejectedData       = errors.New("survey: response rejected")
	ErrEmptyCatalog       = errors.New("survey: catalog has no questions")
)

type QuestionKind string

const (
	KindChoice   QuestionKind = "choice"
	KindFreeText QuestionKind = "text"
	KindAddress  QuestionKind = "address"
)

type Option struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// QuestionDescriptor is one question as delivered to users.
// Options keep backend order; an empty list means the answer is free text.
type QuestionDescriptor struct {
	ID      int64        `json:"id"`
	GroupID int64        `json:"group_id"`
	Code    string       `json:"code"`
	Text    string       `json:"text"`
	Images  []string     `json:"images,omitempty"`
	Kind    QuestionKind `json:"kind"`
	Options []Option     `json:"options,omitempty"`
}

// QuestionCode builds the composite answer key "<survey>X<group>X<question>".
func QuestionCode(surveyID, groupID, questionID int64) string {
	return strconv.FormatInt(surveyID, 10) + "X" + strconv.FormatInt(groupID, 10) + "X" + strconv.FormatInt(questionID, 10)
}

func (q QuestionDescriptor) HasOptions() bool { return len(q.Options) > 0 }

// Label resolves an option key. Unknown keys report false.
func (q QuestionDescriptor) Label(key string) (string, bool) {
	for _, o := range q.Options {
		if o.Key == key {
			return o.Label, true
		}
	}
	return "", false
}

// Catalog is the immutable question list of one survey.
type Catalog struct {
	SurveyID  int64
	Questions []QuestionDescriptor
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Questions)
}

func (c *Catalog) At(i int) (QuestionDescriptor, bool) {
	if c == nil || i < 0 || i >= len(c.Questions) {
		return QuestionDescriptor{}, false
	}
	return c.Questions[i], true
}

// CatalogSource loads questions from the survey backend.
type CatalogSource interface {
	FetchQuestions(ctx context.Context, surveyID int64) ([]QuestionDescriptor, error)
}

// Submitter stores a completed response in the survey backend.
type Submitter interface {
	SubmitResponse(ctx context.Context, surveyID int64, seed string, answers map[string]string) (string, error)
}

type Backend interface {
	CatalogSource
	Submitter
}

// CachedCatalogs fetches each survey's catalog once and shares it.
// Concurrent first requests for the same survey collapse into one fetch.
type CachedCatalogs struct {
	src CatalogSource

	mu sync.RWMutex
	m  map[int64]*Catalog
	sf singleflight.Group
}

func NewCachedCatalogs(src CatalogSource) *CachedCatalogs {
	return &CachedCatalogs{src: src, m: map[int64]*Catalog{}}
}

func (c *CachedCatalogs) Get(ctx context.Context, surveyID int64) (*Catalog, error) {
	c.mu.RLock()
	cat, ok := c.m[surveyID]
	c.mu.RUnlock()
	if ok {
		return cat, nil
	}

	v, err, _ := c.sf.Do(strconv.FormatInt(surveyID, 10), func() (any, error) {
		qs, err := c.src.FetchQuestions(ctx, surveyID)
		if err != nil {
			return nil, err
		}
		if len(qs) == 0 {
			return nil, fmt.Errorf("survey %d: %w", surveyID, ErrEmptyCatalog)
		}
		cat := &Catalog{SurveyID: surveyID, Questions: append([]QuestionDescriptor(nil), qs...)}
		c.mu.Lock()
		c.m[surveyID] = cat
		c.mu.Unlock()
		return cat, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Catalog), nil
}

// Invalidate drops a cached catalog. Running sessions keep the catalog they
// started with.
func (c *CachedCatalogs) Invalidate(surveyID int64) {
	c.mu.Lock()
	delete(c.m, surveyID)
	c.mu.Unlock()
}
