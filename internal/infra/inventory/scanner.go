package inventory

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/medphys/bulkcbct/internal/domain/studies"
)

// Scanner discovers CBCT study directories below a root. Read-only: the
// only side effects are filesystem traversal and logging.
type Scanner struct{}

func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan walks root and classifies directories as studies. A directory
// becomes a study when its direct matched-file count is positive (plus
// files one level deeper when opts.NestedSeries is set). Once a study is
// identified the walk does not descend into it, so nested copies of the
// same slices are not reported as separate studies.
//
// Records are emitted in traversal order (os.ReadDir name order per level),
// which is deterministic for a given filesystem. Unreadable directories
// are logged and skipped; only a bad root fails the whole scan.
func (s *Scanner) Scan(root string, opts studies.ScanOptions) (*studies.Inventory, error) {
	rootPath, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(rootPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", studies.ErrRootNotFound, rootPath)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", studies.ErrRootNotDirectory, rootPath)
	}

	exts := normalizeExtensions(opts.Extensions)
	log.Printf("scanning for CBCT studies root=%s extensions=%v", rootPath, extList(exts))

	inv := &studies.Inventory{
		Root:           rootPath,
		GeneratedAt:    time.Now().UTC(),
		Extensions:     extList(exts),
		FollowSymlinks: opts.FollowSymlinks,
		NestedSeries:   opts.NestedSeries,
	}
	s.visit(rootPath, rootPath, exts, opts, inv)

	log.Printf("discovered %d study directories root=%s", len(inv.Studies), rootPath)
	return inv, nil
}

// visit classifies dir and recurses into its subdirectories. Returns
// without descending when dir itself is recorded as a study.
func (s *Scanner) visit(root, dir string, exts map[string]bool, opts studies.ScanOptions, inv *studies.Inventory) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("skipping unreadable directory %s: %v", dir, err)
		return
	}

	found := map[string]struct{}{}
	count := 0
	var subdirs []fs.DirEntry

	for _, entry := range entries {
		if isDir(dir, entry, opts.FollowSymlinks) {
			subdirs = append(subdirs, entry)
			continue
		}
		if ext, ok := matchExtension(entry.Name(), exts); ok {
			count++
			found[ext] = struct{}{}
		}
	}

	if opts.NestedSeries {
		for _, sub := range subdirs {
			count += countDirect(filepath.Join(dir, sub.Name()), exts, found)
		}
	}

	if count > 0 {
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			rel = dir
		}
		inv.Studies = append(inv.Studies, studies.StudyRecord{
			Path:         dir,
			RelativePath: rel,
			FileCount:    count,
			Extensions:   studies.SortedExtensions(found),
		})
		return
	}

	for _, sub := range subdirs {
		s.visit(root, filepath.Join(dir, sub.Name()), exts, opts, inv)
	}
}

// countDirect counts matching files directly inside dir, merging their
// extensions into found. Unreadable series subfolders count as zero.
func countDirect(dir string, exts map[string]bool, found map[string]struct{}) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext, ok := matchExtension(entry.Name(), exts); ok {
			n++
			found[ext] = struct{}{}
		}
	}
	return n
}

// isDir reports whether entry should be traversed as a directory,
// resolving symlinks only when followSymlinks is set.
func isDir(dir string, entry fs.DirEntry, followSymlinks bool) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 || !followSymlinks {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, entry.Name()))
	return err == nil && info.IsDir()
}

func matchExtension(name string, exts map[string]bool) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || !exts[ext] {
		return "", false
	}
	return ext, true
}

func normalizeExtensions(raw []string) map[string]bool {
	if len(raw) == 0 {
		raw = studies.DefaultExtensions
	}
	exts := make(map[string]bool, len(raw))
	for _, e := range raw {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return exts
}

func extList(exts map[string]bool) []string {
	set := make(map[string]struct{}, len(exts))
	for e := range exts {
		set[e] = struct{}{}
	}
	return studies.SortedExtensions(set)
}
