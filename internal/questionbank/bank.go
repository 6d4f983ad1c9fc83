// Package questionbank loads the static per-lesson quiz definitions:
// warmup questions, in-lesson question triggers and formative-assessment
// bookmarks. A Bank is read-only once loaded; every accessor returns copies.
package questionbank

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/ashureev/lessonloop/internal/domain"
	"gopkg.in/yaml.v3"
)

type bankFile struct {
	Lessons []LessonSet `yaml:"lessons"`
}

// LessonSet is the quiz material for one lesson.
type LessonSet struct {
	LessonID  string                   `yaml:"lesson_id"`
	Warmup    []domain.Question        `yaml:"warmup"`
	Bookmarks []domain.Bookmark        `yaml:"bookmarks"`
	InLesson  []domain.InLessonTrigger `yaml:"in_lesson"`
}

// Bank is an immutable index of lesson sets.
type Bank struct {
	lessons map[string]*LessonSet
}

// Load reads a bank from a YAML file or from every *.yaml/*.yml file in a
// directory. A missing path yields an empty bank.
func Load(path string) (*Bank, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &Bank{lessons: map[string]*LessonSet{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat question bank: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = bankFiles(path)
		if err != nil {
			return nil, err
		}
	}

	b := &Bank{lessons: map[string]*LessonSet{}}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		sets, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		for i := range sets {
			if _, dup := b.lessons[sets[i].LessonID]; dup {
				return nil, fmt.Errorf("%s: lesson %s defined twice", f, sets[i].LessonID)
			}
			b.lessons[sets[i].LessonID] = &sets[i]
		}
	}
	return b, nil
}

func bankFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read question bank dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Parse validates and decodes one bank document.
func Parse(data []byte) ([]LessonSet, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}
	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode question bank: %w", err)
	}
	for i := range f.Lessons {
		if err := checkLesson(&f.Lessons[i]); err != nil {
			return nil, fmt.Errorf("lesson %s: %w", f.Lessons[i].LessonID, err)
		}
	}
	return f.Lessons, nil
}

// checkLesson enforces the rules the schema cannot express.
func checkLesson(set *LessonSet) error {
	seen := map[string]bool{}
	check := func(q domain.Question) error {
		if seen[q.ID] {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
		if q.Type != domain.QuestionMultipleChoice {
			return nil
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("question %q: multiple choice needs at least two options", q.ID)
		}
		if q.CorrectOption != "" && !slices.Contains(q.Options, q.CorrectOption) {
			return fmt.Errorf("question %q: correct_option %q is not one of the options", q.ID, q.CorrectOption)
		}
		return nil
	}

	for _, q := range set.Warmup {
		if err := check(q); err != nil {
			return err
		}
	}
	for _, trig := range set.InLesson {
		for _, q := range trig.Questions {
			if err := check(q); err != nil {
				return err
			}
		}
	}

	bookmarkIDs := map[string]bool{}
	for _, bm := range set.Bookmarks {
		if bookmarkIDs[bm.ID] {
			return fmt.Errorf("duplicate bookmark id %q", bm.ID)
		}
		bookmarkIDs[bm.ID] = true
	}
	return nil
}

// Lessons returns the ids of every lesson in the bank, sorted.
func (b *Bank) Lessons() []string {
	ids := make([]string, 0, len(b.lessons))
	for id := range b.lessons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Warmup returns fresh copies of the lesson's warmup questions.
func (b *Bank) Warmup(lessonID string) []domain.Question {
	set, ok := b.lessons[lessonID]
	if !ok {
		return nil
	}
	return cloneQuestions(set.Warmup)
}

// Bookmarks returns the lesson's formative-assessment bookmarks ordered by offset.
func (b *Bank) Bookmarks(lessonID string) []domain.Bookmark {
	set, ok := b.lessons[lessonID]
	if !ok {
		return nil
	}
	out := make([]domain.Bookmark, len(set.Bookmarks))
	copy(out, set.Bookmarks)
	for i := range out {
		out[i].Triggered = false
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OffsetMs < out[j].OffsetMs })
	return out
}

// InLessonTriggers returns the lesson's in-lesson question triggers ordered by offset.
func (b *Bank) InLessonTriggers(lessonID string) []domain.InLessonTrigger {
	set, ok := b.lessons[lessonID]
	if !ok {
		return nil
	}
	out := make([]domain.InLessonTrigger, len(set.InLesson))
	for i, trig := range set.InLesson {
		out[i] = domain.InLessonTrigger{
			ID:        trig.ID,
			OffsetMs:  trig.OffsetMs,
			Questions: cloneQuestions(trig.Questions),
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OffsetMs < out[j].OffsetMs })
	return out
}

func cloneQuestions(qs []domain.Question) []domain.Question {
	if len(qs) == 0 {
		return nil
	}
	out := make([]domain.Question, len(qs))
	for i, q := range qs {
		out[i] = q.Clone()
	}
	return out
}
