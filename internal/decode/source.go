// Package decode implements the page fetch/decode pipeline the scheduler
// drives: a page source (directory of images) and a deduplicating decoder
// that produces display-ready frames.
package decode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
}

// PageSource provides ordered access to a document's raw page bytes.
type PageSource interface {
	TotalPages() int
	PageName(page int) string
	ReadPage(ctx context.Context, page int) ([]byte, error)
}

// DirSource treats a directory of image files as a book. Pages are ordered
// by a numeric-aware comparison so "page2" sorts before "page10".
type DirSource struct {
	dir   string
	pages []string // file names relative to dir, in reading order
}

// OpenDir lists the image files under dir and returns a source over them.
func OpenDir(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read book dir: %w", err)
	}

	var pages []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			pages = append(pages, e.Name())
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no image pages in %s", dir)
	}

	sort.Slice(pages, func(i, j int) bool {
		return naturalLess(pages[i], pages[j])
	})

	return &DirSource{dir: dir, pages: pages}, nil
}

func (s *DirSource) TotalPages() int {
	return len(s.pages)
}

func (s *DirSource) PageName(page int) string {
	if page < 0 || page >= len(s.pages) {
		return ""
	}
	return s.pages[page]
}

func (s *DirSource) ReadPage(ctx context.Context, page int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 0 || page >= len(s.pages) {
		return nil, fmt.Errorf("page %d out of range [0,%d)", page, len(s.pages))
	}
	data, err := os.ReadFile(filepath.Join(s.dir, s.pages[page]))
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}
	return data, nil
}

// naturalLess compares file names with embedded numbers compared by value,
// so img_9.png < img_10.png.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			aNum, aRest := splitLeadingNumber(a)
			bNum, bRest := splitLeadingNumber(b)
			if aNum != bNum {
				return aNum < bNum
			}
			a, b = aRest, bRest
			continue
		}
		ar := unicode.ToLower(rune(a[0]))
		br := unicode.ToLower(rune(b[0]))
		if ar != br {
			return ar < br
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func splitLeadingNumber(s string) (uint64, string) {
	var n uint64
	i := 0
	for i < len(s) && isDigit(s[i]) {
		// Saturate instead of overflowing on absurdly long digit runs.
		if n < 1<<56 {
			n = n*10 + uint64(s[i]-'0')
		}
		i++
	}
	return n, s[i:]
}
