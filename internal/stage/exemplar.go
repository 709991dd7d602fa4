package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sunzc-sunny/RDAnnotator/internal/filehandler"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

// ExemplarSet is the few-shot context of one stage client: alternating
// user and assistant turns, loaded once and shared read-only.
type ExemplarSet struct {
	Dir   string
	Turns []vlm.Message
}

// Len returns the number of exemplars (user/assistant pairs).
func (s *ExemplarSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Turns) / 2
}

// LoadCaptionExemplars reads <name>.txt captions from dir. Each exemplar's
// user turn is a random phrasing over <imageDir>/<name>.jpg downscaled for
// captioning.
func LoadCaptionExemplars(dir, imageDir string, phrase func() string) (*ExemplarSet, error) {
	names, err := listSuffix(dir, ".txt")
	if err != nil {
		return nil, err
	}
	set := &ExemplarSet{Dir: dir}
	for _, name := range names {
		caption, err := os.ReadFile(filepath.Join(dir, name+".txt"))
		if err != nil {
			return nil, fmt.Errorf("read caption exemplar: %w", err)
		}
		data, err := filehandler.ResizeJPEG(filepath.Join(imageDir, name+".jpg"), filehandler.CaptionMaxDimension)
		if err != nil {
			return nil, fmt.Errorf("caption exemplar %s: %w", name, err)
		}
		set.Turns = append(set.Turns,
			vlm.Message{
				Role:  vlm.RoleUser,
				Text:  phrase(),
				Image: &vlm.Image{MIMEType: "image/jpeg", Data: data, Detail: vlm.DetailLow},
			},
			vlm.Message{Role: vlm.RoleAssistant, Text: string(caption)},
		)
	}
	return set, nil
}

// LoadExemplars reads <name>_info.txt / <name>_ann.txt pairs from dir, with
// the image <imageDir>/<name>.jpg attached to the user turn.
func LoadExemplars(dir, imageDir string) (*ExemplarSet, error) {
	names, err := listSuffix(dir, "_info.txt")
	if err != nil {
		return nil, err
	}
	set := &ExemplarSet{Dir: dir}
	for _, name := range names {
		info, err := os.ReadFile(filepath.Join(dir, name+"_info.txt"))
		if err != nil {
			return nil, fmt.Errorf("read exemplar info: %w", err)
		}
		ann, err := os.ReadFile(filepath.Join(dir, name+"_ann.txt"))
		if err != nil {
			return nil, fmt.Errorf("exemplar %s has no answer: %w", name, err)
		}
		data, err := filehandler.ReadJPEG(filepath.Join(imageDir, name+".jpg"))
		if err != nil {
			return nil, fmt.Errorf("exemplar %s image: %w", name, err)
		}
		set.Turns = append(set.Turns,
			vlm.Message{
				Role:  vlm.RoleUser,
				Text:  string(info),
				Image: &vlm.Image{MIMEType: "image/jpeg", Data: data, Detail: vlm.DetailHigh},
			},
			vlm.Message{Role: vlm.RoleAssistant, Text: string(ann)},
		)
	}
	return set, nil
}

// listSuffix returns the sorted base names of files in dir ending in suffix.
func listSuffix(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read exemplar dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), suffix))
	}
	sort.Strings(names)
	return names, nil
}
