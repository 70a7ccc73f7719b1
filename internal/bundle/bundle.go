// Package bundle reads and writes the static content bundle shipped with the
// site: Markdown files with YAML front matter, one directory per content
// type, plus settings.yaml and meta.yaml.
package bundle

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/frontmatter"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v2"

	"github.com/K4mp47/poetry-cms/internal/model"
)

const (
	settingsFile = "settings.yaml"
	ledgerFile   = "meta.yaml"
)

// typeDirs maps each content type to its directory, in read order.
var typeDirs = []struct {
	dir string
	typ model.ContentType
}{
	{"stories", model.TypeStory},
	{"poetry", model.TypePoetry},
	{"quotes", model.TypeQuote},
}

func dirFor(t model.ContentType) string {
	for _, td := range typeDirs {
		if td.typ == t {
			return td.dir
		}
	}
	return string(t)
}

type frontMatter struct {
	ID      string `yaml:"id,omitempty"`
	Type    string `yaml:"type,omitempty"`
	Title   string `yaml:"title,omitempty"`
	Excerpt string `yaml:"excerpt,omitempty"`
	Date    string `yaml:"date,omitempty"`
}

// Read loads a snapshot from dir. A missing settings.yaml yields default
// settings; a missing meta.yaml an empty ledger. Files without front matter
// are taken whole as the body.
func Read(dir string, logger *zap.Logger) (model.Snapshot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(dir); err != nil {
		return model.Snapshot{}, fmt.Errorf("bundle directory %s: %w", dir, err)
	}

	snap := model.Snapshot{Settings: model.DefaultSettings()}
	if err := readYAML(filepath.Join(dir, settingsFile), &snap.Settings); err != nil {
		return model.Snapshot{}, err
	}
	if err := readYAML(filepath.Join(dir, ledgerFile), &snap.Ledger); err != nil {
		return model.Snapshot{}, err
	}

	titleCaser := cases.Title(language.English)
	for _, td := range typeDirs {
		entries, err := os.ReadDir(filepath.Join(dir, td.dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return model.Snapshot{}, fmt.Errorf("read %s: %w", td.dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".md") {
				continue
			}
			path := filepath.Join(dir, td.dir, entry.Name())
			item, err := readItem(path, td.typ, titleCaser, logger)
			if err != nil {
				return model.Snapshot{}, err
			}
			snap.Items = append(snap.Items, item)
		}
	}

	return snap, nil
}

func readItem(path string, dirType model.ContentType, titleCaser cases.Caser, logger *zap.Logger) (model.ContentItem, error) {
	fileBytes, err := os.ReadFile(path)
	if err != nil {
		return model.ContentItem{}, fmt.Errorf("read %s: %w", path, err)
	}

	var fm frontMatter
	body, err := frontmatter.Parse(bytes.NewReader(fileBytes), &fm)
	if err != nil {
		logger.Warn("could not parse front matter, treating as plain markdown",
			zap.String("path", path), zap.Error(err))
		body = fileBytes
		fm = frontMatter{}
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	item := model.ContentItem{
		ID:      fm.ID,
		Type:    dirType,
		Title:   fm.Title,
		Body:    strings.Trim(string(body), "\r\n"),
		Excerpt: fm.Excerpt,
		Date:    fm.Date,
	}
	if fm.Type != "" {
		t, err := model.ParseContentType(fm.Type)
		if err != nil {
			return model.ContentItem{}, fmt.Errorf("%s: %w", path, err)
		}
		item.Type = t
	}
	if item.ID == "" {
		item.ID = stem
	}
	if item.Type == model.TypeQuote {
		item.Title, item.Excerpt = "", ""
	} else if item.Title == "" {
		item.Title = titleCaser.String(strings.NewReplacer("-", " ", "_", " ").Replace(stem))
	}
	return item, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Write lays snap out under dir in the format Read expects. Existing files
// with the same names are overwritten; nothing is removed.
func Write(dir string, snap model.Snapshot) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("create bundle directory %s: %w", dir, err)
	}
	if err := writeYAML(filepath.Join(dir, settingsFile), snap.Settings); err != nil {
		return err
	}
	if err := writeYAML(filepath.Join(dir, ledgerFile), snap.Ledger); err != nil {
		return err
	}

	for _, item := range snap.Items {
		itemDir := filepath.Join(dir, dirFor(item.Type))
		if err := os.MkdirAll(itemDir, os.ModePerm); err != nil {
			return fmt.Errorf("create %s: %w", itemDir, err)
		}

		fm, err := yaml.Marshal(frontMatter{
			ID:      item.ID,
			Type:    string(item.Type),
			Title:   item.Title,
			Excerpt: item.Excerpt,
			Date:    item.Date,
		})
		if err != nil {
			return fmt.Errorf("marshal front matter for %s: %w", item.ID, err)
		}

		var buf bytes.Buffer
		buf.WriteString("---\n")
		buf.Write(fm)
		buf.WriteString("---\n\n")
		buf.WriteString(item.Body)
		buf.WriteString("\n")

		path := filepath.Join(itemDir, model.Slug(item.ID)+".md")
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
