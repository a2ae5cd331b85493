package main

import (
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
)

type navEntry struct {
	name  string
	path  string
	isDir bool
}

var scoreExts = map[string]bool{".musicxml": true, ".xml": true, ".mxl": true}

func isScoreFile(name string) bool {
	return scoreExts[strings.ToLower(filepath.Ext(name))]
}

// listDir returns the parent entry, sub-directories and score files of dir,
// each group sorted case-insensitively.
func listDir(dir string) ([]navEntry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var dirs, files []navEntry
	if parent := filepath.Dir(dir); parent != dir {
		dirs = append(dirs, navEntry{name: "..", path: parent, isDir: true})
	}
	for _, it := range items {
		name := it.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		switch {
		case it.IsDir():
			dirs = append(dirs, navEntry{name: name, path: full, isDir: true})
		case isScoreFile(name):
			files = append(files, navEntry{name: name, path: full})
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].name == ".." {
			return true
		}
		if dirs[j].name == ".." {
			return false
		}
		return strings.ToLower(dirs[i].name) < strings.ToLower(dirs[j].name)
	})
	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(files[i].name) < strings.ToLower(files[j].name)
	})
	return append(dirs, files...), nil
}

func (g *game) refreshNav() error {
	entries, err := listDir(g.cwd)
	if err != nil {
		return err
	}
	g.nav = entries
	return nil
}

func (g *game) drawNavigator(screen *ebiten.Image, rect image.Rectangle) {
	g.drawText(screen, "Scores", rect.Min.X+8, rect.Min.Y+8)
	maxChars := max(8, (rect.Dx()-16)/charW)
	g.drawText(screen, shortenMiddle(g.cwd, maxChars), rect.Min.X+8, rect.Min.Y+8+lineH)

	top := rect.Min.Y + 12 + lineH*2
	maxLines := max(1, (rect.Dy()-lineH*2-18)/lineH)
	if g.navScroll > len(g.nav)-1 {
		g.navScroll = max(0, len(g.nav)-1)
	}
	for i := 0; i < maxLines; i++ {
		idx := g.navScroll + i
		if idx >= len(g.nav) {
			break
		}
		entry := g.nav[idx]
		y := top + i*lineH
		if !entry.isDir && g.loadedPath != "" && filepath.Clean(entry.path) == filepath.Clean(g.loadedPath) {
			fillRect(screen, image.Rect(rect.Min.X+6, y-2, rect.Max.X-6, y+lineH), highlightColor)
		}
		txt := entry.name
		if entry.isDir && entry.name != ".." {
			txt += "/"
		}
		g.drawText(screen, shortenEnd(txt, maxChars-1), rect.Min.X+10, y)
	}
}

func (g *game) clickNavigator(my int, rect image.Rectangle) {
	top := rect.Min.Y + 12 + lineH*2
	row := (my - top) / lineH
	if my < top {
		return
	}
	idx := g.navScroll + row
	if idx < 0 || idx >= len(g.nav) {
		return
	}
	entry := g.nav[idx]
	if entry.isDir {
		g.cwd = entry.path
		g.navScroll = 0
		if err := g.refreshNav(); err != nil {
			g.setError(err.Error())
			return
		}
		g.setStatus("Directory: " + g.cwd)
		return
	}
	g.load(entry.path)
}
