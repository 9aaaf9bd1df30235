package limesurvey

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"surveybot/internal/survey"
	"surveybot/pkg/qtext"
)

// flexInt accepts ids encoded either as numbers or numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("flexInt %q: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

type groupRow struct {
	GID   flexInt `json:"gid"`
	Order flexInt `json:"group_order"`
	Name  string  `json:"group_name"`
}

type questionRow struct {
	QID      flexInt `json:"qid"`
	GID      flexInt `json:"gid"`
	ParentID flexInt `json:"parent_qid"`
	Title    string  `json:"title"`
	Type     string  `json:"type"`
	Question string  `json:"question"`
	Order    flexInt `json:"question_order"`
}

type answerOption struct {
	Answer string  `json:"answer"`
	Order  flexInt `json:"order"`
}

type questionProps struct {
	AnswerOptions json.RawMessage `json:"answeroptions"`
}

// Catalog options that are not part of the RemoteControl data.
type CatalogOptions struct {
	// AddressQuestions lists question titles or codes answered by address search.
	AddressQuestions []string
	// KeepImages retains <img> sources found in question text.
	KeepImages bool
}

// Backend adapts the client to the survey core ports.
type Backend struct {
	*Client
	opts CatalogOptions
}

func NewBackend(c *Client, opts CatalogOptions) *Backend {
	return &Backend{Client: c, opts: opts}
}

var _ survey.Backend = (*Backend)(nil)

// FetchQuestions walks groups and questions in survey order and resolves
// answer options for each question.
func (b *Backend) FetchQuestions(ctx context.Context, surveyID int64) ([]survey.QuestionDescriptor, error) {
	raw, err := b.call(ctx, "list_groups", surveyID)
	if err != nil {
		return nil, err
	}
	var groups []groupRow
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("limesurvey list_groups: decode: %w", err)
	}
	slices.SortStableFunc(groups, func(x, y groupRow) int { return int(x.Order - y.Order) })

	var out []survey.QuestionDescriptor
	for _, g := range groups {
		raw, err := b.call(ctx, "list_questions", surveyID, int64(g.GID))
		if err != nil {
			return nil, err
		}
		var qs []questionRow
		if err := json.Unmarshal(raw, &qs); err != nil {
			return nil, fmt.Errorf("limesurvey list_questions: decode: %w", err)
		}
		slices.SortStableFunc(qs, func(x, y questionRow) int { return int(x.Order - y.Order) })

		for _, q := range qs {
			if q.ParentID != 0 {
				// subquestions are answered through their parent
				continue
			}
			d, err := b.describe(ctx, surveyID, int64(g.GID), q)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}

func (b *Backend) describe(ctx context.Context, surveyID, groupID int64, q questionRow) (survey.QuestionDescriptor, error) {
	raw, err := b.call(ctx, "get_question_properties", int64(q.QID), []string{"answeroptions"})
	if err != nil {
		return survey.QuestionDescriptor{}, err
	}
	var props questionProps
	if err := json.Unmarshal(raw, &props); err != nil {
		return survey.QuestionDescriptor{}, fmt.Errorf("limesurvey get_question_properties: decode: %w", err)
	}
	opts, err := decodeOptions(props.AnswerOptions)
	if err != nil {
		return survey.QuestionDescriptor{}, err
	}

	text, images := qtext.Prepare(q.Question)
	d := survey.QuestionDescriptor{
		ID:      int64(q.QID),
		GroupID: groupID,
		Code:    survey.QuestionCode(surveyID, groupID, int64(q.QID)),
		Text:    text,
		Options: opts,
	}
	if b.opts.KeepImages {
		d.Images = images
	}
	switch {
	case len(opts) > 0:
		d.Kind = survey.KindChoice
	case b.isAddress(q.Title, d.Code):
		d.Kind = survey.KindAddress
	default:
		d.Kind = survey.KindFreeText
	}
	return d, nil
}

func (b *Backend) isAddress(title, code string) bool {
	for _, a := range b.opts.AddressQuestions {
		if strings.EqualFold(a, title) || a == code {
			return true
		}
	}
	return false
}

// decodeOptions turns the answeroptions map into a list ordered by the
// backend's sort order, then by key. Non-object values mean "no options".
func decodeOptions(raw json.RawMessage) ([]survey.Option, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var m map[string]answerOption
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("limesurvey answeroptions: %w", err)
	}
	type keyed struct {
		key string
		answerOption
	}
	list := make([]keyed, 0, len(m))
	for k, v := range m {
		list = append(list, keyed{key: k, answerOption: v})
	}
	slices.SortFunc(list, func(x, y keyed) int {
		if x.Order != y.Order {
			return int(x.Order - y.Order)
		}
		return strings.Compare(x.key, y.key)
	})
	out := make([]survey.Option, 0, len(list))
	for _, o := range list {
		label, _ := qtext.Prepare(o.Answer)
		out = append(out, survey.Option{Key: o.key, Label: label})
	}
	return out, nil
}

const submitDateLayout = "2006-01-02 15:04:05"

// SubmitResponse stores a completed response. Only answers whose code
// belongs to surveyID are sent.
func (b *Backend) SubmitResponse(ctx context.Context, surveyID int64, seed string, answers map[string]string) (string, error) {
	data := map[string]any{
		"submitdate":    b.now().Format(submitDateLayout),
		"lastpage":      1,
		"startlanguage": b.cfg.Language,
		"seed":          seed,
	}
	prefix := strconv.FormatInt(surveyID, 10) + "X"
	for code, v := range answers {
		if strings.HasPrefix(code, prefix) {
			data[code] = v
		}
	}

	raw, err := b.call(ctx, "add_response", surveyID, data)
	if err != nil {
		return "", err
	}
	var id flexInt
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("limesurvey add_response: %w: unexpected result %s", survey.ErrRejectedData, truncate(string(raw), 100))
	}
	return strconv.FormatInt(int64(id), 10), nil
}

type SurveyInfo struct {
	ID     int64  `json:"sid"`
	Title  string `json:"surveyls_title"`
	Active bool   `json:"active"`
}

func (b *Backend) ListSurveys(ctx context.Context) ([]SurveyInfo, error) {
	raw, err := b.call(ctx, "list_surveys", b.cfg.Username)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		SID    flexInt `json:"sid"`
		Title  string  `json:"surveyls_title"`
		Active string  `json:"active"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("limesurvey list_surveys: decode: %w", err)
	}
	out := make([]SurveyInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, SurveyInfo{ID: int64(r.SID), Title: r.Title, Active: r.Active == "Y"})
	}
	return out, nil
}

// ExportResponses downloads completed responses as CSV.
func (b *Backend) ExportResponses(ctx context.Context, surveyID int64) ([]byte, error) {
	raw, err := b.call(ctx, "export_responses", surveyID, "csv", b.cfg.Language, "full")
	if err != nil {
		return nil, err
	}
	var enc string
	if err := json.Unmarshal(raw, &enc); err != nil {
		return nil, fmt.Errorf("limesurvey export_responses: decode: %w", err)
	}
	return base64.StdEncoding.DecodeString(enc)
}

// Ping logs in to verify credentials and reachability.
func (b *Backend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := b.key(ctx)
	return err
}
