package stateengine

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/sapphire-ai/sapphire/internal/stateengine/features/choices"
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/navigation"
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/riddles"
)

// presetDoc is the on-disk shape of a preset definition: snake_case keys,
// decoded from either YAML or JSON5 depending on file extension.
type presetDoc struct {
	Name        string                 `yaml:"name"`
	Base        string                 `yaml:"base"`
	Iterator    string                 `yaml:"iterator"`
	Mode        string                 `yaml:"mode"`
	Segments    map[string]string      `yaml:"segments"`
	Variables   map[string]Constraints `yaml:"variables"`
	Choices     []choiceDoc            `yaml:"choices"`
	Riddles     []riddleDoc            `yaml:"riddles"`
	Connections map[string]map[string]string `yaml:"connections"`
	StartRoom   string                 `yaml:"start_room"`
}

type choiceDoc struct {
	ID               string   `yaml:"id"`
	Prompt           string   `yaml:"prompt"`
	Options          []string `yaml:"options"`
	TargetKey        string   `yaml:"target_key"`
	RequiredForScene string   `yaml:"required_for_scene"`
}

type riddleDoc struct {
	ID          string            `yaml:"id"`
	Kind        string            `yaml:"kind"`
	FixedAnswer string            `yaml:"fixed_answer"`
	Digits      int               `yaml:"digits"`
	Wordlist    []string          `yaml:"wordlist"`
	MaxAttempts int               `yaml:"max_attempts"`
	SuccessSets map[string]string `yaml:"success_sets"`
	LockoutSets map[string]string `yaml:"lockout_sets"`
}

// LoadPreset reads and parses a single preset definition file. The format is
// chosen by extension: ".json"/".json5" decode as JSON5, anything else as
// YAML.
func LoadPreset(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset %s: %w", path, err)
	}
	doc, err := parsePresetBytes(data, path)
	if err != nil {
		return nil, fmt.Errorf("parse preset %s: %w", path, err)
	}
	return doc.toPreset(), nil
}

// LoadPresetsDir loads every ".yaml", ".yml", ".json", and ".json5" file
// directly under dir as a preset. A missing directory is not an error: state
// presets are optional, and a deployment with no scripted chats need not
// create one.
func LoadPresetsDir(dir string) ([]*Preset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read presets dir %s: %w", dir, err)
	}

	var out []*Preset
	for _, entry := range entries {
		if entry.IsDir() || !isPresetFile(entry) {
			continue
		}
		preset, err := LoadPreset(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, preset)
	}
	return out, nil
}

func isPresetFile(entry fs.DirEntry) bool {
	switch strings.ToLower(filepath.Ext(entry.Name())) {
	case ".yaml", ".yml", ".json", ".json5":
		return true
	default:
		return false
	}
}

// parsePresetBytes decodes data per pathHint's extension, funneling both
// formats through a single YAML-tagged struct the way config.parseRawBytes
// funnels JSON5 and YAML config files through one decode step.
func parsePresetBytes(data []byte, pathHint string) (presetDoc, error) {
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == ".json" || ext == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return presetDoc{}, err
		}
		reencoded, err := yaml.Marshal(raw)
		if err != nil {
			return presetDoc{}, err
		}
		data = reencoded
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var doc presetDoc
	if err := decoder.Decode(&doc); err != nil {
		return presetDoc{}, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return presetDoc{}, fmt.Errorf("expected a single preset document")
	}
	return doc, nil
}

func (d presetDoc) toPreset() *Preset {
	mode := ModeCumulative
	if PromptMode(d.Mode) == ModeCurrentOnly {
		mode = ModeCurrentOnly
	}

	choiceConfigs := make([]choices.Config, 0, len(d.Choices))
	for _, c := range d.Choices {
		choiceConfigs = append(choiceConfigs, choices.Config{
			ID:               c.ID,
			Prompt:           c.Prompt,
			Options:          c.Options,
			TargetKey:        c.TargetKey,
			RequiredForScene: c.RequiredForScene,
		})
	}

	riddleConfigs := make([]riddles.Config, 0, len(d.Riddles))
	for _, r := range d.Riddles {
		riddleConfigs = append(riddleConfigs, riddles.Config{
			ID:          r.ID,
			Kind:        riddles.Kind(r.Kind),
			FixedAnswer: r.FixedAnswer,
			Digits:      r.Digits,
			Wordlist:    r.Wordlist,
			MaxAttempts: r.MaxAttempts,
			SuccessSets: r.SuccessSets,
			LockoutSets: r.LockoutSets,
		})
	}

	var connections navigation.Map
	if d.Connections != nil {
		connections = navigation.Map(d.Connections)
	}

	return &Preset{
		Name:        d.Name,
		Base:        d.Base,
		Iterator:    d.Iterator,
		Mode:        mode,
		Segments:    d.Segments,
		Variables:   d.Variables,
		Choices:     choiceConfigs,
		Riddles:     riddleConfigs,
		Connections: connections,
		StartRoom:   d.StartRoom,
	}
}
