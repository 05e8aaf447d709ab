package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tilesync/internal/dataset"
)

//go:embed schema.cue
var tasksSchema string

// task is one entry of the tasks file after schema defaults are applied.
type task struct {
	ChannelName     string   `json:"channelName"`
	SQL             string   `json:"sql"`
	ReferenceColumn string   `json:"referenceColumn"`
	VTParams        []string `json:"vtParams"`
	DebounceWait    int64    `json:"debounceWait"`
	Coalesce        bool     `json:"coalesce"`
}

// LoadTasks reads the tasks file at path. Archive paths are placed under
// outputRoot.
func LoadTasks(path, outputRoot string) ([]*dataset.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tasks file: %w", err)
	}
	return ParseTasks(path, data, outputRoot)
}

// ParseTasks decodes and validates a tasks document. Datasets are returned
// in file order.
func ParseTasks(filename string, data []byte, outputRoot string) ([]*dataset.Dataset, error) {
	names, err := taskOrder(data)
	if err != nil {
		return nil, &Error{Key: filename, Message: err.Error()}
	}
	if len(names) == 0 {
		return nil, &Error{Key: "tasks", Message: "no tasks configured"}
	}

	value, err := validate(filename, data)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(names))
	datasets := make([]*dataset.Dataset, 0, len(names))
	for _, raw := range names {
		name := norm.NFC.String(raw)
		if err := checkName(name); err != nil {
			return nil, err
		}
		if prev, dup := seen[name]; dup {
			return nil, &Error{Key: "tasks." + raw, Message: fmt.Sprintf("duplicates task %q after normalization", prev)}
		}
		seen[name] = raw

		// CUE stores labels in NFC, so the normalized name is the lookup key.
		var t task
		if err := value.LookupPath(cue.MakePath(cue.Str("tasks"), cue.Str(name))).Decode(&t); err != nil {
			return nil, formatCUEError("tasks."+raw, err)
		}

		datasets = append(datasets, &dataset.Dataset{
			Name:            name,
			Channel:         t.ChannelName,
			SQL:             t.SQL,
			ReferenceColumn: t.ReferenceColumn,
			BuildParams:     t.VTParams,
			DebounceWait:    time.Duration(t.DebounceWait) * time.Millisecond,
			Coalesce:        t.Coalesce,
			OutputPath:      dataset.ArchivePath(outputRoot, name),
		})
	}
	return datasets, nil
}

// taskOrder returns the keys of the top-level "tasks" mapping in document
// order.
func taskOrder(data []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "tasks" {
			continue
		}
		tasks := root.Content[i+1]
		if tasks.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: tasks must be a mapping", tasks.Line)
		}
		names := make([]string, 0, len(tasks.Content)/2)
		for j := 0; j+1 < len(tasks.Content); j += 2 {
			names = append(names, tasks.Content[j].Value)
		}
		return names, nil
	}
	return nil, nil
}

// validate unifies the document with the schema and checks that every
// field is concrete.
func validate(filename string, data []byte) (cue.Value, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(tasksSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("tasks schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return cue.Value{}, formatCUEError(filename, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return cue.Value{}, formatCUEError(filename, err)
	}

	value := schema.LookupPath(cue.ParsePath("#Tasks")).Unify(doc)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, formatCUEError(filename, err)
	}
	return value, nil
}

// checkName rejects names that cannot be used as an archive file name.
func checkName(name string) error {
	key := "tasks." + name
	switch {
	case strings.TrimSpace(name) == "":
		return &Error{Key: "tasks", Message: "task name must not be empty"}
	case name == "." || name == "..":
		return &Error{Key: key, Message: "task name must not be . or .."}
	case strings.ContainsAny(name, "/\\\x00"):
		return &Error{Key: key, Message: "task name must not contain path separators"}
	}
	return nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(key string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Key: key, Message: err.Error()}
	}

	first := errs[0]
	ce := &Error{Key: key, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
