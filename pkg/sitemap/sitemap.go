// Package sitemap derives a location index from the document tree.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"seo-optimizer/pkg/fsutil"
	"seo-optimizer/pkg/logger"
)

const (
	Namespace       = "http://www.sitemaps.org/schemas/sitemap/0.9"
	DefaultFileName = "sitemap.xml"
	dateLayout      = "2006-01-02"
)

type xmlURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	URLs    []xmlURL `xml:"url"`
}

// Entry is one addressable document.
type Entry struct {
	Path            string    `json:"path"`
	Location        string    `json:"loc"`
	LastModified    time.Time `json:"lastmod"`
	ChangeFrequency string    `json:"changefreq"`
	Priority        float64   `json:"priority"`
}

// Index is ordered by Path.
type Index []Entry

type Config struct {
	BaseURL         string  `mapstructure:"base_url"`
	HomeDocument    string  `mapstructure:"home_document"`
	ChangeFrequency string  `mapstructure:"change_frequency"`
	HomePriority    float64 `mapstructure:"home_priority"`
	DefaultPriority float64 `mapstructure:"default_priority"`
	FileName        string  `mapstructure:"file_name"`
	// Exclude lists tree-relative directories left out of the index, such
	// as a snapshot store kept inside the tree.
	Exclude []string `mapstructure:"exclude"`
}

func DefaultConfig() Config {
	return Config{
		HomeDocument:    "index.html",
		ChangeFrequency: "weekly",
		HomePriority:    1.0,
		DefaultPriority: 0.8,
		FileName:        DefaultFileName,
	}
}

type Regenerator struct {
	cfg Config
	log *logger.Logger
}

func NewRegenerator(cfg Config, log *logger.Logger) *Regenerator {
	def := DefaultConfig()
	if cfg.HomeDocument == "" {
		cfg.HomeDocument = def.HomeDocument
	}
	if cfg.ChangeFrequency == "" {
		cfg.ChangeFrequency = def.ChangeFrequency
	}
	if cfg.HomePriority == 0 {
		cfg.HomePriority = def.HomePriority
	}
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = def.DefaultPriority
	}
	if cfg.FileName == "" {
		cfg.FileName = def.FileName
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = logger.GetLogger()
	}
	return &Regenerator{cfg: cfg, log: log.Component("sitemap")}
}

// Regenerate walks root and returns one entry per markup document. Hidden
// files and directories are skipped.
func (r *Regenerator) Regenerate(ctx context.Context, root string) (Index, error) {
	var idx Index
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != root && (strings.HasPrefix(d.Name(), ".") || r.excluded(root, p)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isDocument(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		idx = append(idx, r.entry(filepath.ToSlash(rel), info.ModTime()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk document tree: %w", err)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].Path < idx[j].Path })
	return idx, nil
}

func (r *Regenerator) entry(rel string, mod time.Time) Entry {
	priority := r.cfg.DefaultPriority
	if rel == r.cfg.HomeDocument {
		priority = r.cfg.HomePriority
	}
	return Entry{
		Path:            rel,
		Location:        r.location(rel),
		LastModified:    mod.UTC().Truncate(24 * time.Hour),
		ChangeFrequency: r.cfg.ChangeFrequency,
		Priority:        priority,
	}
}

// location maps "index.html" to "<base>/", "blog/index.html" to
// "<base>/blog/" and "about.html" to "<base>/about".
func (r *Regenerator) location(rel string) string {
	dir, file := path.Split(rel)
	name := strings.TrimSuffix(strings.TrimSuffix(file, ".html"), ".htm")
	if file == path.Base(r.cfg.HomeDocument) {
		name = ""
	}
	segments := strings.Split(strings.TrimSuffix(dir, "/"), "/")
	var b strings.Builder
	b.WriteString(r.cfg.BaseURL)
	b.WriteString("/")
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		b.WriteString(url.PathEscape(seg))
		b.WriteString("/")
	}
	b.WriteString(url.PathEscape(name))
	return b.String()
}

// Render encodes idx as a sitemaps.org urlset.
func Render(idx Index) ([]byte, error) {
	set := xmlURLSet{Xmlns: Namespace, URLs: make([]xmlURL, 0, len(idx))}
	for _, e := range idx {
		u := xmlURL{
			Loc:        e.Location,
			ChangeFreq: e.ChangeFrequency,
			Priority:   strconv.FormatFloat(e.Priority, 'f', 1, 64),
		}
		if !e.LastModified.IsZero() {
			u.LastMod = e.LastModified.Format(dateLayout)
		}
		set.URLs = append(set.URLs, u)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return nil, fmt.Errorf("encode sitemap: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Parse reads a urlset document back into an Index. Path is left empty.
func Parse(data []byte) (Index, error) {
	var set xmlURLSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	idx := make(Index, 0, len(set.URLs))
	for _, u := range set.URLs {
		e := Entry{Location: u.Loc, ChangeFrequency: u.ChangeFreq}
		if u.LastMod != "" {
			if t, err := time.Parse(dateLayout, u.LastMod); err == nil {
				e.LastModified = t
			} else if t, err := time.Parse(time.RFC3339, u.LastMod); err == nil {
				e.LastModified = t
			}
		}
		if u.Priority != "" {
			if p, err := strconv.ParseFloat(u.Priority, 64); err == nil {
				e.Priority = p
			}
		}
		idx = append(idx, e)
	}
	return idx, nil
}

// Write regenerates the index for root and replaces <root>/<FileName>.
func (r *Regenerator) Write(ctx context.Context, root string) (Index, error) {
	idx, err := r.Regenerate(ctx, root)
	if err != nil {
		return nil, err
	}
	data, err := Render(idx)
	if err != nil {
		return nil, err
	}
	target := filepath.Join(root, r.cfg.FileName)
	if err := fsutil.WriteFileAtomic(target, data, 0644); err != nil {
		return nil, fmt.Errorf("write sitemap: %w", err)
	}
	r.log.WithFields(map[string]interface{}{
		"entries": len(idx),
		"file":    r.cfg.FileName,
	}).Info("Sitemap regenerated")
	return idx, nil
}

func (r *Regenerator) excluded(root, p string) bool {
	if len(r.cfg.Exclude) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, ex := range r.cfg.Exclude {
		ex = strings.Trim(filepath.ToSlash(ex), "/")
		if ex != "" && (rel == ex || strings.HasPrefix(rel, ex+"/")) {
			return true
		}
	}
	return false
}

func isDocument(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".html" || ext == ".htm"
}
